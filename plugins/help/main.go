// Command help reimplements the original's help.c: a static non-answer,
// kept around mostly to exercise the simplest possible module shape.
package main

import (
	"fmt"

	"github.com/oriys/ircbotd/internal/moduleapi"
)

func ModuleName() string { return "help" }

func ModuleMatch(message string) bool { return message == "help" }

func ModuleEnter(apiVal any, instanceName, channel, user, message string) error {
	api := apiVal.(*moduleapi.API)
	api.Reply(fmt.Sprintf("%s: Sorry, I don't think there's any help for you at all..", user))
	return nil
}
