// Command fnord reimplements the original's fnord.c: a per-instance bag
// of words that get strung together into a short burst of nonsense, with
// an -add form for growing the bag from channel.
package main

import (
	"fmt"
	"strings"

	"github.com/oriys/ircbotd/internal/moduleapi"
)

func ModuleName() string { return "fnord" }

func ModuleMatch(message string) bool {
	return message == "fnord" || strings.HasPrefix(message, "fnord ")
}

func ensureSchema(api *moduleapi.API) {
	api.Store().Exec(
		`CREATE TABLE IF NOT EXISTS FNORD (WORD TEXT PRIMARY KEY)`, "")
}

func ModuleEnter(apiVal any, instanceName, channel, user, message string) error {
	api := apiVal.(*moduleapi.API)
	ensureSchema(api)

	arg := strings.TrimSpace(strings.TrimPrefix(message, "fnord"))
	if strings.HasPrefix(arg, "-add ") {
		return fnordAdd(api, user, strings.TrimSpace(arg[len("-add "):]))
	}
	return fnordBurst(api, user)
}

func fnordBurst(api *moduleapi.API, user string) error {
	// 2-5 words, drawn independently so repeats are possible, same as
	// the original's loop over a fixed-size word array.
	count := 2 + api.Intn(4)

	var words []string
	for i := 0; i < count; i++ {
		rows, err := api.Store().Query(`SELECT WORD FROM FNORD ORDER BY RANDOM() LIMIT 1`, "")
		if err != nil {
			return err
		}
		if !rows.Next() {
			rows.Close()
			break
		}
		fields, err := rows.Extract("s")
		rows.Close()
		if err != nil {
			return err
		}
		words = append(words, fmt.Sprintf("%v", fields[0]))
	}

	if len(words) == 0 {
		api.Reply(fmt.Sprintf("%s: fnord has no words yet", user))
		return nil
	}
	_ = api.Store().Request("FNORD")
	api.Reply(strings.Join(words, " "))
	return nil
}

func fnordAdd(api *moduleapi.API, user, word string) error {
	if word == "" || strings.Contains(word, " ") {
		api.Reply(fmt.Sprintf("%s: usage: fnord -add <single-word>", user))
		return nil
	}
	_, err := api.Store().Exec(
		`INSERT INTO FNORD(WORD) VALUES(?) ON CONFLICT(WORD) DO NOTHING`, "s", word)
	if err != nil {
		return err
	}
	api.Reply(fmt.Sprintf("%s: added %q", user, word))
	return nil
}
