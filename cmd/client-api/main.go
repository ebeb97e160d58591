// Package main runs the messaging client behind its HTTP API
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ZentaChain/zentalk-client/pkg/api"
	"github.com/ZentaChain/zentalk-client/pkg/client"
	"github.com/ZentaChain/zentalk-client/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Config: %v", err)
	}

	fmt.Println("🚀 ZenTalk Client API")
	fmt.Println("=====================")
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
	fmt.Printf("👤 Identity: %s\n", cl.PublicKey())
	if len(cfg.Relays) == 0 {
		fmt.Println("⚠️ No relays configured, set ZENTALK_RELAYS")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	server := api.NewServer(cl, &api.Config{
		Addr:       cfg.APIAddr,
		EnableCORS: cfg.APICORS,
		RateLimit:  cfg.APIRateLimit,
	})
	if err := server.Start(ctx); err != nil {
		log.Fatalf("❌ Server: %v", err)
	}
	fmt.Println("👋 Bye")
}
