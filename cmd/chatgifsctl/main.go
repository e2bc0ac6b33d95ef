package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Taiwoayodeji/ChatGifs/internal/api"
	"github.com/Taiwoayodeji/ChatGifs/internal/client"
	"github.com/Taiwoayodeji/ChatGifs/internal/profile"
)

// command maps a CLI verb onto one daemon method.
type command struct {
	usage  string
	method string
	nargs  int // minimum positional args
	args   func([]string) map[string]any
	print  func(map[string]any)
}

var commands = map[string]command{
	"status": {usage: "status", method: api.MethodStatus, print: printStatus},
	"signup": {usage: "signup <email> <password> <full name>", method: api.MethodSignUp, nargs: 3,
		args: func(a []string) map[string]any {
			return map[string]any{"email": a[0], "password": a[1], "full_name": strings.Join(a[2:], " ")}
		}, print: printUser},
	"signin": {usage: "signin <email> <password>", method: api.MethodSignIn, nargs: 2,
		args: func(a []string) map[string]any {
			return map[string]any{"email": a[0], "password": a[1]}
		}, print: printUser},
	"signout":        {usage: "signout", method: api.MethodSignOut},
	"delete-account": {usage: "delete-account", method: api.MethodDeleteAccount},
	"rename": {usage: "rename <full name>", method: api.MethodUpdateProfile, nargs: 1,
		args: func(a []string) map[string]any { return map[string]any{"full_name": strings.Join(a, " ")} }},
	"search": {usage: "search <term>", method: api.MethodSearchUsers, nargs: 1,
		args:  func(a []string) map[string]any { return map[string]any{"term": strings.Join(a, " ")} },
		print: printUsers("users")},
	"friends":  {usage: "friends", method: api.MethodListFriends, print: printUsers("friends")},
	"requests": {usage: "requests", method: api.MethodListFriendRequests, print: printRequests},
	"add": {usage: "add <user id>", method: api.MethodSendFriendRequest, nargs: 1,
		args: one("receiver_id")},
	"accept": {usage: "accept <request id>", method: api.MethodAcceptFriendRequest, nargs: 1,
		args: one("request_id")},
	"reject": {usage: "reject <request id>", method: api.MethodRejectFriendRequest, nargs: 1,
		args: one("request_id")},
	"unfriend": {usage: "unfriend <user id>", method: api.MethodRemoveFriend, nargs: 1,
		args: one("friend_id")},
	"chats": {usage: "chats", method: api.MethodListConversations, print: printConversations},
	"new-chat": {usage: "new-chat <user id>...", method: api.MethodCreateConversation, nargs: 1,
		args:  func(a []string) map[string]any { return map[string]any{"participants": toAny(a)} },
		print: printConversation},
	"delete-chat": {usage: "delete-chat <conversation id>", method: api.MethodDeleteConversation, nargs: 1,
		args: one("conversation_id")},
	"open": {usage: "open <conversation id>", method: api.MethodOpenConversation, nargs: 1,
		args: one("conversation_id")},
	"close": {usage: "close", method: api.MethodCloseConversation},
	"messages": {usage: "messages [conversation id]", method: api.MethodListMessages,
		args:  optional("conversation_id"),
		print: printMessages},
	"send": {usage: "send <conversation id> <text>", method: api.MethodSendMessage, nargs: 2,
		args: func(a []string) map[string]any {
			return map[string]any{"conversation_id": a[0], "content": strings.Join(a[1:], " "), "type": "text"}
		}},
	"send-gif": {usage: "send-gif <conversation id> <gif url>", method: api.MethodSendMessage, nargs: 2,
		args: func(a []string) map[string]any {
			return map[string]any{"conversation_id": a[0], "content": a[1], "type": "gif"}
		}},
	"online": {usage: "online <user id>", method: api.MethodCheckOnline, nargs: 1,
		args: one("user_id")},
	"gifs": {usage: "gifs <query>", method: api.MethodSearchGifs, nargs: 1,
		args:  func(a []string) map[string]any { return map[string]any{"query": strings.Join(a, " ")} },
		print: printGifs},
	"trending": {usage: "trending", method: api.MethodTrendingGifs, print: printGifs},
	"prefs":    {usage: "prefs", method: api.MethodGetPreferences},
	"set": {usage: "set <theme|active_tab> <value>", method: api.MethodSetPreference, nargs: 2,
		args: func(a []string) map[string]any { return map[string]any{"key": a[0], "value": a[1]} }},
}

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	startFlag := flag.Bool("start", false, "start the daemon if it is not running")
	flag.Usage = printUsage
	flag.Parse()

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fatalf("error: %v\n", err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	// profiles needs no daemon.
	if args[0] == "profiles" {
		cmdProfiles(*jsonFlag)
		return
	}

	socketPath := profile.SocketPath(name)
	if *startFlag && !daemonRunning(socketPath) {
		fmt.Fprintf(os.Stderr, "daemon not running for profile %q, starting...\n", name)
		if err := startDaemon(name); err != nil {
			fatalf("failed to start daemon: %v\n", err)
		}
		if !waitForDaemon(socketPath, 10*time.Second) {
			fatalf("daemon did not become ready\n")
		}
	}

	c, err := client.New(socketPath)
	if err != nil {
		fatalf("error: cannot connect to daemon for profile %q: %v\n", name, err)
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		prefix := ""
		if len(args) > 1 {
			prefix = args[1]
		}
		cmdWatch(c, prefix, *jsonFlag)
		return
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	rest := args[1:]
	if len(rest) < cmd.nargs {
		fatalf("usage: chatgifsctl %s\n", cmd.usage)
	}
	var in map[string]any
	if cmd.args != nil {
		in = cmd.args(rest)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, err := c.Call(ctx, cmd.method, in)
	if err != nil {
		fatalf("error: %v\n", err)
	}
	switch {
	case *jsonFlag:
		outputJSON(out)
	case cmd.print != nil:
		cmd.print(out)
	default:
		printFields(out)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: chatgifsctl [--profile <name>] [--json] [--start] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(os.Stderr, "  %s\n", commands[n].usage)
	}
	fmt.Fprintln(os.Stderr, "  watch [prefix]")
	fmt.Fprintln(os.Stderr, "  profiles")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format, a...)
	os.Exit(1)
}

func one(key string) func([]string) map[string]any {
	return func(a []string) map[string]any { return map[string]any{key: a[0]} }
}

func optional(key string) func([]string) map[string]any {
	return func(a []string) map[string]any {
		if len(a) == 0 {
			return nil
		}
		return map[string]any{key: a[0]}
	}
}

func toAny(a []string) []any {
	out := make([]any, len(a))
	for i, s := range a {
		out[i] = s
	}
	return out
}

func cmdProfiles(jsonOut bool) {
	infos, err := profile.List()
	if err != nil {
		fatalf("error: %v\n", err)
	}
	if jsonOut {
		outputJSON(infos)
		return
	}
	if len(infos) == 0 {
		fmt.Println("No profiles found.")
		return
	}
	for _, p := range infos {
		running := "stopped"
		if p.DaemonRunning {
			running = fmt.Sprintf("running, pid %d", p.DaemonPID)
		}
		fmt.Printf("%-20s %s (%s)\n", p.Name, p.Path, running)
	}
}

func cmdWatch(c *client.Client, prefix string, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events, errs, err := c.Watch(ctx, prefix)
	if err != nil {
		fatalf("error: %v\n", err)
	}
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if jsonOut {
				outputJSON(evt)
				continue
			}
			fmt.Printf("%s  %-28s %v\n", evt.OccurredAt.Format(time.TimeOnly), evt.Kind, evt.Payload)
		case err := <-errs:
			if err != nil && ctx.Err() == nil {
				fatalf("error: %v\n", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func printStatus(m map[string]any) {
	fmt.Printf("Profile: %v\n", m["profile"])
	fmt.Printf("Status:  %v\n", m["status"])
	if ms, ok := m["uptime_ms"].(float64); ok {
		fmt.Printf("Up:      %s\n", humanize.RelTime(time.Now().Add(-time.Duration(ms)*time.Millisecond), time.Now(), "", ""))
	}
	if n, ok := m["outbox_queued"].(float64); ok {
		fmt.Printf("Outbox:  %s queued\n", humanize.Comma(int64(n)))
	}
	if u, ok := m["user"].(map[string]any); ok {
		fmt.Printf("User:    %v <%v> (%v)\n", u["full_name"], u["email"], u["id"])
		fmt.Printf("Friends: %v  Requests: %v  Chats: %v\n", m["friends"], m["requests"], m["conversations"])
		if active, _ := m["active_conversation"].(string); active != "" {
			fmt.Printf("Open:    %s\n", active)
		}
	}
}

func printUser(m map[string]any) {
	if u, ok := m["user"].(map[string]any); ok {
		fmt.Printf("Signed in as %v <%v> (%v)\n", u["full_name"], u["email"], u["id"])
	}
}

func printUsers(key string) func(map[string]any) {
	return func(m map[string]any) {
		users := items(m, key)
		if len(users) == 0 {
			fmt.Printf("No %s.\n", key)
			return
		}
		for _, u := range users {
			mark := " "
			if u["online"] == true {
				mark = "*"
			}
			fmt.Printf("%s %-28v %-24v %v\n", mark, u["id"], u["full_name"], u["email"])
		}
	}
}

func printRequests(m map[string]any) {
	reqs := items(m, "requests")
	if len(reqs) == 0 {
		fmt.Println("No pending requests.")
		return
	}
	for _, r := range reqs {
		who := r["sender_name"]
		if r["direction"] == "outgoing" {
			who = r["receiver_name"]
		}
		fmt.Printf("%-24v %-8v %-24v %s\n", r["id"], r["direction"], who, since(r["timestamp"]))
	}
}

func printConversation(m map[string]any) {
	if c, ok := m["conversation"].(map[string]any); ok {
		fmt.Printf("Conversation %v with %v\n", c["id"], c["participants"])
	}
}

func printConversations(m map[string]any) {
	convs := items(m, "conversations")
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, c := range convs {
		mark := " "
		if c["unread"] == true {
			mark = "●"
		}
		last := ""
		if lm, ok := c["last_message"].(map[string]any); ok {
			last = fmt.Sprintf("%v (%s)", lm["content"], since(lm["timestamp"]))
		}
		fmt.Printf("%s %-24v %-24v %s\n", mark, c["id"], c["name"], last)
	}
}

func printMessages(m map[string]any) {
	msgs := items(m, "messages")
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return
	}
	for _, msg := range msgs {
		fmt.Printf("%-14s %-28v [%v] %v\n", since(msg["timestamp"]), msg["sender_id"], msg["type"], msg["content"])
	}
}

func printGifs(m map[string]any) {
	for _, g := range items(m, "gifs") {
		fmt.Printf("%-20v %-32v %v\n", g["id"], g["title"], g["url"])
	}
}

func printFields(m map[string]any) {
	if len(m) == 0 {
		fmt.Println("OK")
		return
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Printf("%s: %v\n", k, m[k])
	}
}

func items(m map[string]any, key string) []map[string]any {
	raw, _ := m[key].([]any)
	out := make([]map[string]any, 0, len(raw))
	for _, it := range raw {
		if obj, ok := it.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// since renders a millisecond timestamp relative to now.
func since(v any) string {
	ms, ok := v.(float64)
	if !ok || ms <= 0 {
		return "-"
	}
	return humanize.Time(time.UnixMilli(int64(ms)))
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
