package main

import (
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	. "github.com/russross/autograder/types"
	"github.com/spf13/cobra"
)

func CommandSubmit(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 2 {
		log.Fatalf("Usage: %s submit <phase> <repo url>", cmd.Root().Name())
	}
	phase, err := ParsePhase(args[0])
	if err != nil {
		log.Fatalf("%v", err)
	}

	request := map[string]interface{}{
		"phase":   string(phase),
		"repoURL": args[1],
	}
	if student := cmd.Flag("student").Value.String(); student != "" {
		request["netID"] = student
	}
	if cmd.Flag("admin").Value.String() == "true" {
		request["admin"] = true
	}

	response := make(map[string]int)
	mustPostObject("/submissions", nil, request, &response, nil)
	fmt.Printf("submission queued at position %d\n", response["position"])

	watchQueue()
}

// watchQueue streams grading progress until the run finishes or the
// server closes the socket.
func watchQueue() {
	headers := make(http.Header)
	headers.Add("Cookie", Config.Cookie)
	url := "wss://" + Config.Host + urlPrefix + "/sockets/queue"
	socket, resp, err := websocket.DefaultDialer.Dial(url, headers)
	if err != nil {
		log.Printf("error dialing %s: %v", url, err)
		if resp != nil && resp.Body != nil {
			dumpBody(resp)
			resp.Body.Close()
		}
		log.Fatalf("giving up")
	}
	defer socket.Close()

	for {
		event := make(map[string]interface{})
		if err := socket.ReadJSON(&event); err != nil {
			return
		}

		switch event["type"] {
		case "position":
			fmt.Printf("queue position: %v\n", event["position"])
		case "update":
			fmt.Printf("%v\n", event["message"])
		case "warning":
			fmt.Printf("warning: %v\n", event["message"])
		case "error":
			log.Fatalf("%v", event["message"])
		case "results":
			raw := mustMarshalIndent(event["submission"])
			fmt.Printf("%s\n", raw)
			return
		}
	}
}

func CommandSubmissions(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)

	if len(args) == 1 {
		phase, err := ParsePhase(args[0])
		if err != nil {
			log.Fatalf("%v", err)
		}
		sub := new(Submission)
		if !getObject(fmt.Sprintf("/submissions/%s/latest", phase), nil, sub) {
			log.Fatalf("no submissions found for %s", phase)
		}
		fmt.Printf("%s\n", mustMarshalIndent(sub))
		return
	}

	subs := []*Submission{}
	mustGetObject("/submissions", nil, &subs)
	if len(subs) == 0 {
		fmt.Println("no submissions found")
		return
	}
	for _, sub := range subs {
		status := "failed"
		if sub.Passed {
			status = "passed"
		}
		fmt.Printf("%s  %-8s %-7s score %.3f  %s  %s\n",
			sub.Timestamp.Format("2006-01-02 15:04"), sub.Phase, status, sub.Score, sub.VerifiedStatus, sub.HeadHash)
	}
}

func CommandQueue(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)

	items := []*QueueItem{}
	mustGetObject("/queue", nil, &items)
	if len(items) == 0 {
		fmt.Println("the queue is empty")
		return
	}
	fmt.Printf("%d submission%s in the queue\n", len(items), plural(len(items)))
	for i, item := range items {
		state := "waiting"
		if item.Started {
			state = "grading"
		}
		fmt.Printf("%3d. %-12s %-8s %-8s added %s\n",
			i+1, item.NetID, item.Phase, state, item.TimeAdded.Format("15:04:05"))
	}
}

func CommandApprove(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)
	if len(args) != 2 {
		log.Fatalf("Usage: %s approve <netid> <phase> [--penalty n]", cmd.Root().Name())
	}
	phase, err := ParsePhase(args[1])
	if err != nil {
		log.Fatalf("%v", err)
	}
	penalty, err := strconv.Atoi(cmd.Flag("penalty").Value.String())
	if err != nil || penalty < 0 || penalty > 100 {
		log.Fatalf("penalty must be a percentage between 0 and 100")
	}

	request := map[string]interface{}{
		"phase":      string(phase),
		"penaltyPct": penalty,
	}
	updated := []*Submission{}
	mustPostObject(fmt.Sprintf("/students/%s/approve", args[0]), nil, request, &updated, nil)
	fmt.Printf("approved %d submission%s for %s %s", len(updated), plural(len(updated)), args[0], phase)
	if penalty > 0 {
		fmt.Printf(" with a %d%% penalty", penalty)
	}
	fmt.Println()
}

func CommandConfig(cmd *cobra.Command, args []string) {
	mustLoadConfig(cmd)

	switch len(args) {
	case 0:
		entries := []*ConfigEntry{}
		mustGetObject("/config", nil, &entries)
		for _, entry := range entries {
			fmt.Printf("%s=%s\n", entry.Key, entry.Value)
		}
	case 2:
		entry := &ConfigEntry{Key: args[0], Value: args[1]}
		mustPutObject("/config", nil, entry, entry)
		fmt.Printf("%s=%s\n", entry.Key, entry.Value)
	default:
		log.Fatalf("Usage: %s config [key value]", cmd.Root().Name())
	}
}
