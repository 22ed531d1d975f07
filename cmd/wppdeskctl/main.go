package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/wppdesk/internal/config"
	"github.com/matheus3301/wppdesk/internal/gateway"
	"github.com/matheus3301/wppdesk/internal/paths"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (default $WPPDESK_PROFILE or \"main\")")
	addrFlag := flag.String("addr", "", "daemon control address (default http.addr from the profile config)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	addr, err := resolveAddr(*profileFlag, *addrFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, newClient(addr), os.Stdout, args, *jsonFlag); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func resolveAddr(profile, addr string) (string, error) {
	if addr != "" {
		return addr, nil
	}
	if profile == "" {
		profile = os.Getenv("WPPDESK_PROFILE")
	}
	if profile == "" {
		profile = paths.DefaultProfile
	}
	if err := paths.ValidateProfile(profile); err != nil {
		return "", err
	}
	cfg, err := config.Resolve(paths.ForProfile(profile).ConfigPath())
	if err != nil {
		return "", err
	}
	if cfg.HTTP.Addr == "" {
		return "", fmt.Errorf("profile %q has no http.addr; pass -addr", profile)
	}
	return cfg.HTTP.Addr, nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: wppdeskctl [-profile <name>] [-addr <host:port>] [-json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                          Show connection state")
	fmt.Fprintln(os.Stderr, "  pair                            Start pairing and print the QR code")
	fmt.Fprintln(os.Stderr, "  logout                          Terminate the gateway session")
	fmt.Fprintln(os.Stderr, "  settings <url> <key> <instance> Save gateway settings")
	fmt.Fprintln(os.Stderr, "  list [query]                    List conversations")
	fmt.Fprintln(os.Stderr, "  add <name> <address>            Create a conversation")
	fmt.Fprintln(os.Stderr, "  open <id>                       Select a conversation")
	fmt.Fprintln(os.Stderr, "  messages                        Show the open conversation")
	fmt.Fprintln(os.Stderr, "  send <text...>                  Send to the open conversation")
}

func run(ctx context.Context, c *client, w io.Writer, args []string, jsonOut bool) error {
	switch args[0] {
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(w, st)
		}
		printStatus(w, st)
	case "pair":
		st, err := c.Pair(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(w, st)
		}
		printStatus(w, st)
	case "logout":
		st, err := c.Logout(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(w, st)
		}
		_, _ = fmt.Fprintln(w, "Session terminated.")
		printStatus(w, st)
	case "settings":
		if len(args) != 4 {
			return fmt.Errorf("usage: wppdeskctl settings <url> <key> <instance>")
		}
		if err := c.SaveSettings(ctx, args[1], args[2], args[3]); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(w, "Settings saved.")
	case "list":
		query := strings.Join(args[1:], " ")
		convs, err := c.Conversations(ctx, query)
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(w, convs)
		}
		if len(convs) == 0 {
			_, _ = fmt.Fprintln(w, "No conversations found.")
			return nil
		}
		for _, conv := range convs {
			_, _ = fmt.Fprintf(w, "%-36s %-24s %s\n", conv.ID, conv.Name, conv.Address)
		}
	case "add":
		if len(args) != 3 {
			return fmt.Errorf("usage: wppdeskctl add <name> <address>")
		}
		conv, err := c.CreateConversation(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(w, conv)
		}
		_, _ = fmt.Fprintf(w, "Created %s (%s)\n", conv.ID, conv.Name)
	case "open":
		if len(args) != 2 {
			return fmt.Errorf("usage: wppdeskctl open <id>")
		}
		conv, err := c.Open(ctx, args[1])
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(w, conv)
		}
		_, _ = fmt.Fprintf(w, "Opened %s (%s)\n", conv.Name, conv.Address)
	case "messages":
		thread, err := c.Messages(ctx)
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(w, thread)
		}
		printThread(w, thread)
	case "send":
		if len(args) < 2 {
			return fmt.Errorf("usage: wppdeskctl send <text...>")
		}
		m, err := c.Send(ctx, strings.Join(args[1:], " "))
		if err != nil {
			return err
		}
		if jsonOut {
			return outputJSON(w, m)
		}
		_, _ = fmt.Fprintf(w, "Sent %s [%s]\n", m.ID, m.Status)
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
	return nil
}

func printStatus(w io.Writer, st *statusView) {
	_, _ = fmt.Fprintf(w, "State:    %s\n", st.State)
	if st.Instance != "" {
		_, _ = fmt.Fprintf(w, "Instance: %s\n", st.Instance)
	}
	if !st.Configured {
		_, _ = fmt.Fprintln(w, "Gateway settings incomplete. Use: wppdeskctl settings <url> <key> <instance>")
	}
	if st.PairingCode != "" {
		_, _ = fmt.Fprintf(w, "Pairing code: %s\n", st.PairingCode)
	}
	switch {
	case st.Code != "":
		artifact := &gateway.PairingArtifact{Code: st.Code}
		if qr, err := artifact.Terminal(); err == nil {
			_, _ = fmt.Fprintln(w, "Scan with WhatsApp > Linked devices:")
			_, _ = fmt.Fprint(w, qr)
		}
	case st.QR != "":
		_, _ = fmt.Fprintln(w, "QR available at /pair/qr.png")
	}
}

func printThread(w io.Writer, t *threadView) {
	_, _ = fmt.Fprintf(w, "%s (%s)\n", t.Conversation.Name, t.Conversation.Address)
	if len(t.Messages) == 0 {
		_, _ = fmt.Fprintln(w, "No messages.")
		return
	}
	for _, m := range t.Messages {
		who := t.Conversation.Name
		if m.FromMe {
			who = "me"
		}
		_, _ = fmt.Fprintf(w, "[%s] %s: %s (%s)\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), who, m.Body, m.Status)
	}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
