// Command smoke checks a running API end to end: gRPC health, the HTTP ops
// endpoints, the auth-pin setup probe and a certificate render.
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

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"medcabinet.org/internal/documents"
	"medcabinet.org/internal/session"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {
	baseURL := envOr("MEDCABINET_URL", "http://localhost:8080")
	grpcAddr := envOr("MEDCABINET_GRPC_ADDR", "localhost:9090")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("dial grpc at %s: %v", grpcAddr, err)
	}
	defer conn.Close()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		log.Fatalf("grpc health: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		log.Fatalf("grpc health: %s", resp.GetStatus())
	}

	httpc := &http.Client{Timeout: 5 * time.Second}
	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := httpc.Get(baseURL + path)
		if err != nil {
			log.Fatalf("GET %s: %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			log.Fatalf("GET %s: status %d", path, res.StatusCode)
		}
	}

	needsSetup, err := session.NewHTTPClient(baseURL, session.WithHTTPClient(httpc)).NeedsSetup(ctx)
	if err != nil {
		log.Fatalf("needs_setup: %s", session.Message(err))
	}

	body, _ := json.Marshal(documents.CertificateRequest{
		Certificate: &documents.Certificate{
			Type:       documents.CertificateRepos,
			Date:       time.Now().Format(time.DateOnly),
			DureeJours: 2,
			Patient:    &documents.Patient{Nom: "Smoke", Prenom: "Test"},
		},
		Settings: documents.CertificateSettings{DoctorName: "Dr Smoke"},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/generate-certificate-pdf", bytes.NewReader(body))
	if err != nil {
		log.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := os.Getenv("MEDCABINET_SESSION_TOKEN"); tok != "" {
		req.Header.Set("X-Session-Token", tok)
	}
	res, err := httpc.Do(req)
	if err != nil {
		log.Fatalf("certificate: %v", err)
	}
	defer res.Body.Close()
	var doc struct {
		Success bool   `json:"success"`
		HTML    string `json:"html"`
		PDF     string `json:"pdf"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&doc); err != nil {
		log.Fatalf("certificate: decode: %v", err)
	}
	if res.StatusCode != http.StatusOK || !doc.Success || doc.HTML == "" {
		log.Fatalf("certificate: status %d: %s", res.StatusCode, doc.Error)
	}

	fmt.Printf("✅ smoke test passed: needsSetup=%t pdf=%t\n", needsSetup, doc.PDF != "")
}
