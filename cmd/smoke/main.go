package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"tessera.dev/internal/grpcapi"
)

type loginReply struct {
	OK    bool   `json:"ok"`
	OTT   string `json:"ott"`
	Token string `json:"token"`
	Error string `json:"error"`
}

func main() {
	log.SetFlags(0)
	var (
		baseURL  = pflag.String("http", envOr("AUTH_SMOKE_HTTP", "http://localhost:8080"), "HTTP base URL")
		grpcAddr = pflag.String("grpc", envOr("AUTH_SMOKE_GRPC", "localhost:9090"), "gRPC address")
		email    = pflag.String("email", os.Getenv("AUTH_SMOKE_EMAIL"), "account email")
		password = pflag.String("password", os.Getenv("AUTH_SMOKE_PASSWORD"), "account password")
	)
	pflag.Parse()
	if *email == "" || *password == "" {
		log.Fatal("missing credentials: provide --email and --password")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	login, err := doLogin(ctx, *baseURL, *email, *password)
	if err != nil {
		log.Fatalf("login: %v", err)
	}

	conn, err := grpc.DialContext(ctx, *grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial %s: %v", *grpcAddr, err)
	}
	defer conn.Close()
	client := grpcapi.NewClient(conn)

	session, err := client.VerifySession(ctx, login.Token)
	if err != nil {
		log.Fatalf("verify session: %v", err)
	}
	claims, err := client.ExchangeOneTimeToken(ctx, login.OTT)
	if err != nil {
		log.Fatalf("exchange: %v", err)
	}
	if _, err := client.ExchangeOneTimeToken(ctx, login.OTT); err == nil {
		log.Fatal("one-time token was accepted twice")
	}

	sub := claims.AsMap()["sub"]
	if sub != session.AsMap()["sub"] {
		log.Fatalf("subject mismatch: claims=%v session=%v", sub, session.AsMap()["sub"])
	}
	out, _ := json.Marshal(claims.AsMap())
	fmt.Printf("auth smoke test passed: %s\n", out)
}

func doLogin(ctx context.Context, baseURL, email, password string) (loginReply, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return loginReply{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return loginReply{}, err
	}
	defer resp.Body.Close()

	var reply loginReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return loginReply{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !reply.OK {
		return loginReply{}, fmt.Errorf("status %d: %s", resp.StatusCode, reply.Error)
	}
	return reply, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
