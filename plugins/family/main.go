// Command family reimplements the original's family.c: a per-instance
// table of silly relationship facts ("X is the Y in our screwed up
// family"), stored in the instance's own SQLite database via the module
// API's Store() accessor rather than the core REQUESTS/ACCESS/WHITELIST
// tables.
package main

import (
	"fmt"
	"strings"

	"github.com/oriys/ircbotd/internal/moduleapi"
)

func ModuleName() string { return "family" }

func ModuleMatch(message string) bool {
	return message == "family" || strings.HasPrefix(message, "family ")
}

func ensureSchema(api *moduleapi.API) {
	api.Store().Exec(
		`CREATE TABLE IF NOT EXISTS FAMILY (NAME TEXT PRIMARY KEY, CONTENT TEXT NOT NULL)`, "")
}

func ModuleEnter(apiVal any, instanceName, channel, user, message string) error {
	api := apiVal.(*moduleapi.API)
	ensureSchema(api)

	arg := strings.TrimSpace(strings.TrimPrefix(message, "family"))

	switch {
	case arg == "":
		return familyRandom(api, channel, user)
	case strings.HasPrefix(arg, "-add "):
		return familyAdd(api, channel, user, strings.TrimSpace(arg[len("-add "):]))
	default:
		return familyLookup(api, channel, user, arg)
	}
}

func familyRandom(api *moduleapi.API, channel, user string) error {
	rows, err := api.Store().Query(
		`SELECT NAME, CONTENT FROM FAMILY ORDER BY RANDOM() LIMIT 1`, "")
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		api.Reply(fmt.Sprintf("%s: the family tree is empty", user))
		return nil
	}
	fields, err := rows.Extract("ss")
	if err != nil {
		return err
	}
	_ = api.Store().Request("FAMILY")
	api.Reply(fmt.Sprintf("%s: %s is the %s in our screwed up family", user, fields[0], fields[1]))
	return nil
}

func familyLookup(api *moduleapi.API, channel, user, nick string) error {
	rows, err := api.Store().Query(
		`SELECT CONTENT FROM FAMILY WHERE NAME = ?`, "s", nick)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		api.Reply(fmt.Sprintf("%s: %s isn't in our family", user, nick))
		return nil
	}
	fields, err := rows.Extract("s")
	if err != nil {
		return err
	}
	api.Reply(fmt.Sprintf("%s: %s is the %s in our screwed up family", user, nick, fields[0]))
	return nil
}

func familyAdd(api *moduleapi.API, channel, user, rest string) error {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		api.Reply(fmt.Sprintf("%s: usage: family -add <nick> <status>", user))
		return nil
	}
	_, err := api.Store().Exec(
		`INSERT INTO FAMILY(NAME, CONTENT) VALUES(?, ?) ON CONFLICT(NAME) DO UPDATE SET CONTENT = excluded.CONTENT`,
		"ss", parts[0], parts[1])
	if err != nil {
		return err
	}
	api.Reply(fmt.Sprintf("%s: got it, %s is now the %s", user, parts[0], parts[1]))
	return nil
}
