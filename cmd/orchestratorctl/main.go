// Command orchestratorctl is an interactive operator REPL against a running
// orchestrator's gateway: status, agents, tasks, health, help, and quit.
//
// Grounded on the teacher's direct `chzyer/readline` dependency, otherwise
// unused anywhere else in this module.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/chzyer/readline"
)

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func (c *client) get(path string) (map[string]interface{}, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("orchestratorctl: %s: %s", resp.Status, string(body))
	}
	var out map[string]interface{}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func main() {
	addr := flag.String("addr", "http://127.0.0.1:18790", "orchestrator gateway base URL")
	apiKey := flag.String("api-key", os.Getenv("ORC_GATEWAY_API_KEY"), "gateway bearer token")
	flag.Parse()

	c := &client{baseURL: *addr, apiKey: *apiKey, http: &http.Client{}}

	rl, err := readline.New("orchestratorctl> ")
	if err != nil {
		fmt.Fprintln(os.Stderr, "orchestratorctl: init readline:", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println("orchestratorctl — connected to", *addr)
	fmt.Println("commands: status, agents, tasks, health, help, quit")

	for {
		line, err := rl.Readline()
		if err != nil { // io.EOF on Ctrl-D, readline.ErrInterrupt on Ctrl-C
			break
		}
		cmd := strings.TrimSpace(line)
		if cmd == "" {
			continue
		}
		switch cmd {
		case "quit", "exit":
			return
		case "help":
			fmt.Println("status  — governor counters, task stats, agent summary")
			fmt.Println("agents  — per-agent status detail")
			fmt.Println("tasks   — task-count breakdown by status")
			fmt.Println("health  — gateway liveness check")
		case "health":
			printResult(c.get("/api/health"))
		case "status":
			printResult(c.get("/api/status"))
		case "agents":
			status, err := c.get("/api/status")
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			printJSON(status["agents"])
		case "tasks":
			status, err := c.get("/api/status")
			if err != nil {
				fmt.Println("error:", err)
				continue
			}
			printJSON(status["tasks"])
		default:
			fmt.Println("unknown command:", cmd, "(try 'help')")
		}
	}
}

func printResult(v map[string]interface{}, err error) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	printJSON(v)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println(string(data))
}
