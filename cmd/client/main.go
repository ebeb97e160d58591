// Package main is an interactive terminal front-end for the messaging
// client
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ZentaChain/zentalk-client/pkg/client"
	"github.com/ZentaChain/zentalk-client/pkg/config"
	"github.com/ZentaChain/zentalk-client/pkg/protocol"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}

	fmt.Println("🚀 ZenTalk Client")
	fmt.Println("=================")
	fmt.Println()

	cl, err := client.New(client.Config{
		Relays:  cfg.Relays,
		DataDir: cfg.DataDir,
	})
	if err != nil {
		log.Fatalf("❌ Client: %v", err)
	}
	defer cl.Close()

	secret := cfg.ResolveSecret()
	if err := cl.Login(secret); err != nil {
		log.Fatalf("❌ Login: %v", err)
	}
	if secret == "" {
		generated, err := cl.ExportSecretKey()
		if err != nil {
			log.Fatalf("❌ Export key: %v", err)
		}
		if err := cfg.PersistSecret(generated); err != nil {
			log.Fatalf("❌ Persist key: %v", err)
		}
		fmt.Printf("🔑 New identity saved to %s\n", cfg.KeyPath())
	}
	fmt.Printf("👤 You are %s\n", cl.PublicKey())
	fmt.Println("Type /help for commands")
	fmt.Println()

	unsub := cl.Subscribe(printEvent)
	defer unsub()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		runCommand(cl, line)
	}
	fmt.Println("👋 Bye")
}

func printEvent(ev client.Event) {
	switch ev.Kind {
	case client.EventMessage:
		m := ev.Message
		switch {
		case m.ChannelID != "":
			fmt.Printf("📢 [%s] %s: %s\n", short(m.ChannelID), short(m.From), m.Content)
		case m.Attachment != nil:
			fmt.Printf("📎 %s sent %s (%d bytes)\n", short(m.From), m.Attachment.FileName, m.Attachment.Size)
			if m.Attachment.TransferID != "" {
				fmt.Printf("   download with /get %s\n", m.Attachment.TransferID)
			}
		default:
			fmt.Printf("💬 %s: %s\n", short(m.From), m.Content)
		}
	case client.EventTyping:
		fmt.Printf("✏️ %s is typing...\n", short(ev.Typing.From))
	case client.EventProfile:
		fmt.Printf("👤 %s is now known as %s\n", short(ev.Profile.PubKey), ev.Profile.Profile.Name)
	case client.EventChannel:
		fmt.Printf("📢 Channel %s (%s)\n", ev.Channel.Name, short(ev.Channel.ID))
	case client.EventRelayStatus:
		fmt.Printf("🔄 Relay %s: %s\n", ev.RelayStatus.Endpoint, ev.RelayStatus.Status)
	case client.EventCallState:
		if ev.Call.Reason != "" {
			fmt.Printf("📞 Call %s (%s)\n", ev.Call.State, ev.Call.Reason)
		} else {
			fmt.Printf("📞 Call %s\n", ev.Call.State)
		}
	}
}

func runCommand(cl *client.Client, line string) {
	cmd, rest, _ := strings.Cut(line, " ")
	var err error

	switch cmd {
	case "/help":
		printHelp()
	case "/msg":
		to, text, ok := strings.Cut(rest, " ")
		if !ok {
			err = fmt.Errorf("usage: /msg <pubkey> <text>")
			break
		}
		_, err = cl.SendText(to, text, "")
	case "/send":
		to, path, ok := strings.Cut(rest, " ")
		if !ok {
			err = fmt.Errorf("usage: /send <pubkey> <file>")
			break
		}
		err = sendFile(cl, to, path)
	case "/get":
		var data []byte
		if data, err = cl.DownloadAttachment(rest); err == nil {
			name := "attachment-" + short(rest)
			if err = os.WriteFile(name, data, 0o600); err == nil {
				fmt.Printf("📥 Saved %s (%d bytes)\n", name, len(data))
			}
		}
	case "/add":
		pubkey, name, _ := strings.Cut(rest, " ")
		err = cl.AddContact(pubkey, name)
	case "/contacts":
		err = listContacts(cl)
	case "/profile":
		name, about, _ := strings.Cut(rest, " ")
		err = cl.PublishProfile(&protocol.Profile{Name: name, About: about})
	case "/create":
		name, about, _ := strings.Cut(rest, " ")
		channel, cerr := cl.CreateChannel(name, about)
		if cerr != nil {
			err = cerr
			break
		}
		fmt.Printf("📢 Created channel %s\n", channel.ID)
	case "/join":
		err = cl.JoinChannel(rest)
	case "/post":
		id, text, ok := strings.Cut(rest, " ")
		if !ok {
			err = fmt.Errorf("usage: /post <channel> <text>")
			break
		}
		err = cl.PostToChannel(id, text)
	case "/call":
		peer, media, ok := strings.Cut(rest, " ")
		if !ok {
			media = protocol.CallMediaAudio
		}
		err = cl.StartCall(peer, media)
	case "/accept":
		err = cl.AcceptCall()
	case "/reject":
		err = cl.RejectCall()
	case "/hangup":
		cl.EndCall()
	case "/mute":
		err = cl.MuteCall(rest != "off")
	case "/video":
		err = cl.SetCallVideo(rest != "off")
	case "/relays":
		for url, status := range cl.RelayStatuses() {
			fmt.Printf("  %s: %s\n", url, status)
		}
	case "/relay":
		err = cl.AddRelay(rest)
	default:
		err = fmt.Errorf("unknown command %s, try /help", cmd)
	}

	if err != nil {
		fmt.Printf("⚠️ %v\n", err)
	}
}

func sendFile(cl *client.Client, to, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fmt.Printf("📤 Sending %s (%d bytes)...\n", path, len(data))
	return cl.SendAttachment(to, path, "application/octet-stream", data, func(sent, total int) {
		fmt.Printf("📤 %d/%d chunks\n", sent, total)
	})
}

func listContacts(cl *client.Client) error {
	contacts, err := cl.Contacts()
	if err != nil {
		return err
	}
	if len(contacts) == 0 {
		fmt.Println("  (no contacts)")
	}
	for _, contact := range contacts {
		name := contact.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s %s\n", short(contact.PubKey), name)
	}
	return nil
}

func printHelp() {
	fmt.Println(`Commands:
  /msg <pubkey> <text>       send an encrypted message
  /send <pubkey> <file>      send a file
  /get <transfer-id>         download a received file
  /add <pubkey> [name]       add a contact
  /contacts                  list contacts
  /profile <name> [about]    publish your profile
  /create <name> [about]     create a channel
  /join <channel-id>         join a channel
  /post <channel-id> <text>  post into a channel
  /call <pubkey> [media]     start a call
  /accept /reject /hangup    answer controls
  /mute [off] /video [off]   in-call media toggles
  /relay <url>               add a relay
  /relays                    relay status
  /quit                      exit`)
}

func short(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}
