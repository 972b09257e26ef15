package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/freelancehub/convo/internal/config"
	"github.com/freelancehub/convo/internal/session"
)

func main() {
	addrFlag := flag.String("addr", "", "daemon address (default from config)")
	tokenFlag := flag.String("token", "", "bearer token (default $CONVO_TOKEN)")
	jsonFlag := flag.Bool("json", false, "output raw JSON")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := &client{
		addr:  resolveAddr(*addrFlag),
		token: resolveToken(*tokenFlag),
		http:  &http.Client{Timeout: 10 * time.Second},
	}

	switch args[0] {
	case "status":
		c.get("/api/status", *jsonFlag, printStatus)
	case "conversations":
		path := "/api/conversations"
		if len(args) > 1 {
			path += "?q=" + args[1]
		}
		c.get(path, *jsonFlag, printConversations)
	case "history":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: convoctl history <conversation-id>")
			os.Exit(1)
		}
		c.get("/api/conversations/"+args[1]+"/messages", *jsonFlag, printMessages)
	case "send":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: convoctl send <receiver-id> <text>")
			os.Exit(1)
		}
		c.post("/api/messages", map[string]string{
			"receiverId": args[1],
			"text":       strings.Join(args[2:], " "),
		}, *jsonFlag)
	case "read":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: convoctl read <conversation-id>")
			os.Exit(1)
		}
		c.post("/api/conversations/"+args[1]+"/read", map[string][]string{"messageIds": {}}, *jsonFlag)
	case "typing":
		if len(args) < 3 || (args[2] != "on" && args[2] != "off") {
			fmt.Fprintln(os.Stderr, "usage: convoctl typing <conversation-id> <on|off>")
			os.Exit(1)
		}
		c.post("/api/conversations/"+args[1]+"/typing", map[string]bool{"typing": args[2] == "on"}, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: convoctl [--addr <host:port>] [--token <jwt>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                       Show daemon status")
	fmt.Fprintln(os.Stderr, "  conversations [query]        List conversations, optionally filtered")
	fmt.Fprintln(os.Stderr, "  history <conversation-id>    Show the message thread")
	fmt.Fprintln(os.Stderr, "  send <receiver-id> <text>    Send a message")
	fmt.Fprintln(os.Stderr, "  read <conversation-id>       Mark the whole thread read")
	fmt.Fprintln(os.Stderr, "  typing <conv-id> <on|off>    Toggle the typing indicator")
}

func resolveAddr(flagAddr string) string {
	if flagAddr != "" {
		return flagAddr
	}
	if cfg, err := config.Load(session.ConfigPath()); err == nil && cfg.Listen != "" {
		return cfg.Listen
	}
	return config.Default().Listen
}

func resolveToken(flagToken string) string {
	if flagToken != "" {
		return flagToken
	}
	if tok := os.Getenv("CONVO_TOKEN"); tok != "" {
		return tok
	}
	fmt.Fprintln(os.Stderr, "error: no token; pass --token or set CONVO_TOKEN")
	os.Exit(1)
	return ""
}

type client struct {
	addr  string
	token string
	http  *http.Client
}

func (c *client) request(method, path string, body any) []byte {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
	}
	req, err := http.NewRequest(method, "http://"+c.addr+path, &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot reach daemon at %s: %v\n", c.addr, err)
		os.Exit(1)
	}
	defer func() { _ = resp.Body.Close() }()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		fmt.Fprintf(os.Stderr, "error: %s: %s\n", resp.Status, strings.TrimSpace(string(data)))
		os.Exit(1)
	}
	return data
}

func (c *client) get(path string, rawJSON bool, print func([]byte)) {
	data := c.request(http.MethodGet, path, nil)
	if rawJSON {
		fmt.Println(string(data))
		return
	}
	print(data)
}

func (c *client) post(path string, body any, rawJSON bool) {
	data := c.request(http.MethodPost, path, body)
	if rawJSON {
		fmt.Println(string(data))
		return
	}
	fmt.Println("ok")
}

func printStatus(data []byte) {
	var s struct {
		UserID        string `json:"userId"`
		Conversations int64  `json:"conversations"`
		Messages      int64  `json:"messages"`
		PendingOutbox int    `json:"pendingOutbox"`
	}
	if err := json.Unmarshal(data, &s); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("User:           %s\n", s.UserID)
	fmt.Printf("Conversations:  %d\n", s.Conversations)
	fmt.Printf("Messages:       %d\n", s.Messages)
	fmt.Printf("Pending outbox: %d\n", s.PendingOutbox)
}

func printConversations(data []byte) {
	var resp struct {
		Conversations []struct {
			DisplayName  string `json:"displayName"`
			Unread       bool   `json:"unread"`
			Conversation struct {
				ID          string `json:"id"`
				LastMessage string `json:"lastMessage"`
			} `json:"conversation"`
		} `json:"conversations"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if len(resp.Conversations) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, c := range resp.Conversations {
		marker := " "
		if c.Unread {
			marker = "*"
		}
		fmt.Printf("%s %-24s %-40s %s\n", marker, c.DisplayName, c.Conversation.ID, c.Conversation.LastMessage)
	}
}

func printMessages(data []byte) {
	var resp struct {
		Messages []struct {
			SenderID  string `json:"senderId"`
			Text      string `json:"text"`
			Status    string `json:"deliveryStatus"`
			CreatedAt int64  `json:"createdAt"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	for _, m := range resp.Messages {
		ts := time.UnixMilli(m.CreatedAt).Format("2006-01-02 15:04")
		fmt.Printf("[%s] %-12s (%s) %s\n", ts, m.SenderID, m.Status, m.Text)
	}
}
