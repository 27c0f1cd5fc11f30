// Command faq reimplements the original's faq.c: a per-instance lookup
// table of short canned answers, keyed by a topic word, with an -add
// form for extending it from channel.
package main

import (
	"fmt"
	"strings"

	"github.com/oriys/ircbotd/internal/moduleapi"
)

func ModuleName() string { return "faq" }

func ModuleMatch(message string) bool {
	return message == "faq" || strings.HasPrefix(message, "faq ")
}

func ensureSchema(api *moduleapi.API) {
	api.Store().Exec(
		`CREATE TABLE IF NOT EXISTS FAQ (TOPIC TEXT PRIMARY KEY, ANSWER TEXT NOT NULL)`, "")
}

func ModuleEnter(apiVal any, instanceName, channel, user, message string) error {
	api := apiVal.(*moduleapi.API)
	ensureSchema(api)

	arg := strings.TrimSpace(strings.TrimPrefix(message, "faq"))

	switch {
	case arg == "":
		return faqList(api, user)
	case strings.HasPrefix(arg, "-add "):
		return faqAdd(api, user, strings.TrimSpace(arg[len("-add "):]))
	default:
		return faqLookup(api, user, arg)
	}
}

func faqList(api *moduleapi.API, user string) error {
	rows, err := api.Store().Query(`SELECT TOPIC FROM FAQ ORDER BY TOPIC`, "")
	if err != nil {
		return err
	}
	defer rows.Close()

	var topics []string
	for rows.Next() {
		fields, err := rows.Extract("s")
		if err != nil {
			return err
		}
		topics = append(topics, fmt.Sprintf("%v", fields[0]))
	}
	if len(topics) == 0 {
		api.Reply(fmt.Sprintf("%s: nothing in the faq yet", user))
		return nil
	}
	api.Reply(fmt.Sprintf("%s: known topics: %s", user, strings.Join(topics, ", ")))
	return nil
}

func faqLookup(api *moduleapi.API, user, topic string) error {
	rows, err := api.Store().Query(`SELECT ANSWER FROM FAQ WHERE TOPIC = ?`, "s", topic)
	if err != nil {
		return err
	}
	defer rows.Close()

	if !rows.Next() {
		api.Reply(fmt.Sprintf("%s: no faq entry for %q", user, topic))
		return nil
	}
	fields, err := rows.Extract("s")
	if err != nil {
		return err
	}
	_ = api.Store().Request("FAQ")
	api.Reply(fmt.Sprintf("%s: %v", user, fields[0]))
	return nil
}

func faqAdd(api *moduleapi.API, user, rest string) error {
	parts := strings.SplitN(rest, " ", 2)
	if len(parts) != 2 {
		api.Reply(fmt.Sprintf("%s: usage: faq -add <topic> <answer>", user))
		return nil
	}
	_, err := api.Store().Exec(
		`INSERT INTO FAQ(TOPIC, ANSWER) VALUES(?, ?) ON CONFLICT(TOPIC) DO UPDATE SET ANSWER = excluded.ANSWER`,
		"ss", parts[0], parts[1])
	if err != nil {
		return err
	}
	api.Reply(fmt.Sprintf("%s: added faq entry for %q", user, parts[0]))
	return nil
}
