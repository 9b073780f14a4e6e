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

	"github.com/Minimega12121/compss/internal/policy"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}
	switch os.Args[1] {
	case "resource":
		runResource(os.Args[2:])
	case "policy":
		runPolicy(os.Args[2:])
	case "verify":
		runVerify(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: compssctl <resource|policy|verify> [...]")
}

func runResource(args []string) {
	if len(args) < 1 || args[0] != "register" {
		fmt.Fprintln(os.Stderr, "usage: compssctl resource register [flags]")
		os.Exit(1)
	}
	fs := flag.NewFlagSet("resource register", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8080", "compssd control URL")
	name := fs.String("name", "", "resource name (required)")
	kind := fs.String("kind", "static", "static|cloud_elastic|http_connection")
	cpuCores := fs.Int("cpu-cores", 0, "cpu core count (0 = unbounded)")
	memoryMB := fs.Int("memory-mb", 0, "memory in MB")
	gpu := fs.Bool("gpu", false, "resource has a GPU")
	implementations := fs.String("implementations", "", "comma-separated implementation signatures")
	locality := fs.String("locality", "", "locality tag")
	maxConnections := fs.Int("max-connections", 0, "max concurrent connections (HTTP_CONNECTION only)")
	_ = fs.Parse(args[1:])

	if strings.TrimSpace(*name) == "" {
		fatalf("--name is required")
	}

	body := map[string]any{
		"name":            *name,
		"kind":            *kind,
		"cpu_cores":       *cpuCores,
		"memory_mb":       *memoryMB,
		"gpu":             *gpu,
		"implementations": splitCSV(*implementations),
		"locality":        *locality,
		"max_connections": *maxConnections,
	}
	if err := postJSON(*url+"/v1/resources", body, nil); err != nil {
		fatalf("register resource failed: %v", err)
	}
	fmt.Printf("registered resource %s\n", *name)
}

func runPolicy(args []string) {
	if len(args) < 1 || args[0] != "validate" {
		fmt.Fprintln(os.Stderr, "usage: compssctl policy validate --file <path>")
		os.Exit(1)
	}
	fs := flag.NewFlagSet("policy validate", flag.ExitOnError)
	file := fs.String("file", "", "policy YAML file to validate (required)")
	_ = fs.Parse(args[1:])
	if strings.TrimSpace(*file) == "" {
		fatalf("--file is required")
	}
	old := os.Getenv("COMPSS_POLICY_FILE")
	defer os.Setenv("COMPSS_POLICY_FILE", old)
	os.Setenv("COMPSS_POLICY_FILE", *file)

	eng, err := policy.LoadFromEnv()
	if err != nil {
		fatalf("policy file invalid: %v", err)
	}
	if eng.IsNoop() {
		fmt.Println("policy file loaded: no rules or quotas configured, everything allowed")
		return
	}
	fmt.Println("policy file loaded ok")
}

func runVerify(args []string) {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	url := fs.String("url", "http://localhost:8080", "compssd control URL")
	appID := fs.String("app-id", "", "optional application id to check for existing results")
	_ = fs.Parse(args)

	healthURL := strings.TrimRight(*url, "/") + "/healthz"
	if err := getOK(healthURL); err != nil {
		fatalf("health check failed: %v", err)
	}
	fmt.Printf("ok: %s\n", healthURL)

	metricsURL := strings.TrimRight(*url, "/") + "/v1/metrics"
	if err := getOK(metricsURL); err != nil {
		fatalf("metrics check failed: %v", err)
	}
	fmt.Printf("ok: %s\n", metricsURL)

	if strings.TrimSpace(*appID) != "" {
		resultsURL := strings.TrimRight(*url, "/") + "/v1/applications/" + *appID + "/results"
		if err := getOK(resultsURL); err != nil {
			fatalf("application results check failed: %v", err)
		}
		fmt.Printf("ok: %s\n", resultsURL)
	}
}

func postJSON(url string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func getOK(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return nil
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
