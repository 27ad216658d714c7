package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"lead-enricher/internal/mockapi"
)

func main() {
	addr := defaultString("MOCK_API_ADDR", ":8090")
	apiKey := defaultString("MOCK_API_KEY", "")

	fs := flag.NewFlagSet("mock-api", flag.ExitOnError)
	fs.StringVar(&addr, "addr", addr, "Listen address")
	fs.StringVar(&apiKey, "api-key", apiKey, "Require this apikey header, empty disables the check")
	_ = fs.Parse(os.Args[1:])

	srv := mockapi.New()
	srv.RequireAPIKey(apiKey)
	srv.AddPerson("jane@acme.com", `{"name":"Jane Doe","title":"VP Sales","location":{"city":"Berlin","country":"DE"}}`)
	srv.AddCompany("acme.com", `{"name":"Acme","industry":"Robotics","size":"51-200","founded":1969}`)

	_, _ = fmt.Fprintf(os.Stdout, "mock-api listening on %s\n", addr)
	if err := http.ListenAndServe(addr, srv.Handler()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
