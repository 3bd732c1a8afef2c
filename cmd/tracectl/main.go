// tracectl is a thin operator CLI for the trace service. Every command maps
// onto one HTTP endpoint and prints the raw JSON response.
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
)

const usage = `usage:
  tracectl trace get --id <trace_id>
  tracectl trace propose --actor <address> --title <t> --campaign <id> --flavor <f> --token <sym> [--recipient <address>] [--reviewer <address>]
  tracectl trace accept --id <trace_id> --actor <address> [--message <m>]
  tracectl trace reject --id <trace_id> --actor <address> [--message <m>]
  tracectl trace delete --id <trace_id> --actor <address>
  tracectl trace mark-complete --id <trace_id> --actor <address> [--message <m>] [--evidence <ref>] [--skip-low-funding] [--confirm-zero-donation]
  tracectl trace approve --id <trace_id> --actor <address> [--message <m>]
  tracectl trace reject-completion --id <trace_id> --actor <address> --message <m>
  tracectl campaign get --id <campaign_id>

environment:
  TRACE_API_URL   base url of the trace service (default http://localhost:8084)`

func main() {
	if len(os.Args) < 3 {
		fail(usage)
	}
	switch os.Args[1] {
	case "trace":
		runTrace(os.Args[2], os.Args[3:])
	case "campaign":
		runCampaign(os.Args[2], os.Args[3:])
	default:
		fail(usage)
	}
}

func baseURL() string {
	if u := os.Getenv("TRACE_API_URL"); u != "" {
		return strings.TrimRight(u, "/")
	}
	return "http://localhost:8084"
}

func runTrace(cmd string, args []string) {
	fs := flag.NewFlagSet("trace "+cmd, flag.ExitOnError)
	id := fs.String("id", "", "trace id")
	actor := fs.String("actor", "", "actor wallet address")
	message := fs.String("message", "", "proof message")
	evidence := fs.String("evidence", "", "evidence reference")
	title := fs.String("title", "", "trace title")
	campaign := fs.String("campaign", "", "campaign id")
	flavor := fs.String("flavor", "MILESTONE", "trace flavor")
	token := fs.String("token", "ETH", "token symbol")
	recipient := fs.String("recipient", "", "recipient address")
	reviewer := fs.String("reviewer", "", "reviewer address")
	skipLowFunding := fs.Bool("skip-low-funding", false, "override the low funding warning")
	confirmZero := fs.Bool("confirm-zero-donation", false, "confirm completion without donations")
	_ = fs.Parse(args)

	actorBody := map[string]any{"address": *actor, "authenticated": true}
	proofBody := map[string]any{"message": *message, "evidence_ref": *evidence}

	switch cmd {
	case "get":
		requireFlag(*id, "--id")
		do(http.MethodGet, "/traces/"+*id, nil)
	case "propose":
		requireFlag(*actor, "--actor")
		requireFlag(*title, "--title")
		requireFlag(*campaign, "--campaign")
		do(http.MethodPost, "/traces", map[string]any{
			"actor": actorBody,
			"trace": map[string]any{
				"title":             *title,
				"campaign_id":       *campaign,
				"flavor":            *flavor,
				"token_symbol":      *token,
				"recipient_address": *recipient,
				"reviewer_address":  *reviewer,
			},
		})
	case "accept":
		requireFlag(*id, "--id")
		requireFlag(*actor, "--actor")
		do(http.MethodPost, "/traces/"+*id+"/accept", map[string]any{"actor": actorBody, "proof": proofBody})
	case "reject":
		requireFlag(*id, "--id")
		requireFlag(*actor, "--actor")
		do(http.MethodPost, "/traces/"+*id+"/reject", map[string]any{"actor": actorBody, "proof": proofBody})
	case "delete":
		requireFlag(*id, "--id")
		requireFlag(*actor, "--actor")
		do(http.MethodDelete, "/traces/"+*id, map[string]any{"actor": actorBody, "confirmed": true})
	case "mark-complete":
		requireFlag(*id, "--id")
		requireFlag(*actor, "--actor")
		do(http.MethodPost, "/traces/"+*id+"/request-mark-complete", map[string]any{
			"actor":                  actorBody,
			"proof":                  proofBody,
			"skip_low_funding_check": *skipLowFunding,
			"confirm_zero_donation":  *confirmZero,
		})
	case "approve":
		requireFlag(*id, "--id")
		requireFlag(*actor, "--actor")
		do(http.MethodPost, "/traces/"+*id+"/approve-completion", map[string]any{"actor": actorBody, "proof": proofBody})
	case "reject-completion":
		requireFlag(*id, "--id")
		requireFlag(*actor, "--actor")
		requireFlag(*message, "--message")
		do(http.MethodPost, "/traces/"+*id+"/reject-completion", map[string]any{"actor": actorBody, "proof": proofBody})
	default:
		fail(usage)
	}
}

func runCampaign(cmd string, args []string) {
	fs := flag.NewFlagSet("campaign "+cmd, flag.ExitOnError)
	id := fs.String("id", "", "campaign id")
	_ = fs.Parse(args)

	switch cmd {
	case "get":
		requireFlag(*id, "--id")
		do(http.MethodGet, "/campaigns/"+*id, nil)
	default:
		fail(usage)
	}
}

func do(method, path string, body map[string]any) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			fail(err.Error())
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, baseURL()+path, rd)
	if err != nil {
		fail(err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail(err.Error())
	}
	defer resp.Body.Close()

	var out bytes.Buffer
	raw, _ := io.ReadAll(resp.Body)
	if json.Indent(&out, raw, "", "  ") == nil {
		fmt.Println(out.String())
	} else {
		fmt.Println(string(raw))
	}
	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func requireFlag(v, name string) {
	if strings.TrimSpace(v) == "" {
		fail(name + " is required")
	}
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
