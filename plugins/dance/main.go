// Command dance is a Go plugin reimplementing the original's dance.c: a
// silly channel action with no persistent state.
package main

import (
	"fmt"

	"github.com/oriys/ircbotd/internal/moduleapi"
)

func ModuleName() string { return "dance" }

func ModuleMatch(message string) bool {
	return message == "dance" || len(message) > 6 && message[:6] == "dance "
}

func ModuleEnter(apiVal any, instanceName, channel, user, message string) error {
	api := apiVal.(*moduleapi.API)

	target := ""
	if len(message) > 6 {
		target = message[6:]
	}

	if target == "" {
		api.Action(channel, "dances like a jolly idiot")
	} else {
		api.Action(channel, fmt.Sprintf("gives %s a lap dance - oooh-lah-lah", target))
	}
	return nil
}
