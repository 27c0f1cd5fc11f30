// Command fail reimplements the original's fail.c: a coin-flip roast
// that calls out the bot's own nick as a special case.
package main

import (
	"fmt"

	"github.com/oriys/ircbotd/internal/moduleapi"
)

func ModuleName() string { return "fail" }

func ModuleMatch(message string) bool {
	return len(message) > 5 && message[:5] == "fail "
}

func ModuleEnter(apiVal any, instanceName, channel, user, message string) error {
	api := apiVal.(*moduleapi.API)

	target := message[5:]
	if target == "" {
		return nil
	}

	switch {
	case target == api.Nick:
		api.Reply(fmt.Sprintf("%s: Nuh-uh, you are teh fail for even thinking I could be.", user))
	case api.Intn(3) == api.Intn(2):
		api.Reply(fmt.Sprintf("%s: Nopez, %s seems to be teh win.", user, target))
	default:
		api.Reply(fmt.Sprintf("%s: Uhuh, %s iz teh fail.", user, target))
	}
	return nil
}
