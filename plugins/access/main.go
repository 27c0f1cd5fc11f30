// Command access reimplements the original's access.c: an in-channel
// wrapper around the instance's access control table, letting an
// already-privileged user grant, change, or revoke another nick's level
// without going through the daemon's admin control socket.
package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/oriys/ircbotd/internal/moduleapi"
)

func ModuleName() string { return "access" }

func ModuleMatch(message string) bool {
	return strings.HasPrefix(message, "access ")
}

func ModuleEnter(apiVal any, instanceName, channel, user, message string) error {
	api := apiVal.(*moduleapi.API)

	args := strings.Fields(strings.TrimPrefix(message, "access "))
	if len(args) == 0 {
		api.Reply(fmt.Sprintf("%s: usage: access <grant|change|revoke> <nick> [level]", user))
		return nil
	}

	sub, rest := args[0], args[1:]
	switch sub {
	case "grant", "change":
		if len(rest) != 2 {
			api.Reply(fmt.Sprintf("%s: usage: access %s <nick> <level>", user, sub))
			return nil
		}
		level, err := strconv.Atoi(rest[1])
		if err != nil {
			api.Reply(fmt.Sprintf("%s: %q isn't a number", user, rest[1]))
			return nil
		}
		var result, accessErr = grantOrChange(api, sub, channel, user, rest[0], level)
		if accessErr != nil {
			return accessErr
		}
		api.Reply(fmt.Sprintf("%s: %s", user, result))
		return nil

	case "revoke":
		if len(rest) != 1 {
			api.Reply(fmt.Sprintf("%s: usage: access revoke <nick>", user))
			return nil
		}
		result, err := api.Access().Remove(channel, user, rest[0])
		if err != nil {
			return err
		}
		api.Reply(fmt.Sprintf("%s: %s", user, result))
		return nil

	default:
		api.Reply(fmt.Sprintf("%s: unknown access subcommand %q", user, sub))
		return nil
	}
}

func grantOrChange(api *moduleapi.API, sub, channel, user, target string, level int) (string, error) {
	if sub == "grant" {
		result, err := api.Access().Insert(channel, user, target, level)
		return result.String(), err
	}
	result, err := api.Access().Change(channel, user, target, level)
	return result.String(), err
}
