//go:build wasip1

// Mock interpreter for testing the session protocol without Python.
// Build with: GOOS=wasip1 GOARCH=wasm go build -o mock.wasm mock.go
//
// exec code:
//
//	error <text>   reports <text> as a traceback
//	call <fn>      calls host function fn with the exec target and prints the reply
//	stderr <text>  writes <text> to stderr
//	sleep          never finishes
//	quit           exits the interpreter
//	anything else  is echoed to stdout
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

type command struct {
	Type   string         `json:"type"`
	Code   string         `json:"code"`
	Target string         `json:"target"`
	Fn     string         `json:"fn"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

func main() {
	fmt.Fprint(os.Stderr, "\x00PYHOST_READY\x00")

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		var cmd command
		if err := json.Unmarshal(in.Bytes(), &cmd); err != nil {
			continue
		}

		switch cmd.Type {
		case "exit":
			return
		case "has":
			found := cmd.Fn == "echo" || cmd.Fn == "fail"
			fmt.Fprintf(os.Stderr, "\x00PYHOST_RESULT:%t\x00", found)
		case "call":
			call(cmd)
		case "exec":
			if !exec(in, cmd) {
				return
			}
		}
	}
}

func call(cmd command) {
	switch cmd.Fn {
	case "echo":
		data, _ := json.Marshal(map[string]any{"args": cmd.Args, "kwargs": cmd.Kwargs})
		fmt.Fprintf(os.Stderr, "\x00PYHOST_RESULT:%s\x00", data)
	default:
		fmt.Fprintf(os.Stderr, "\x00PYHOST_ERROR:Traceback (most recent call last):\nRuntimeError: %s failed\n\x00", cmd.Fn)
	}
}

func exec(in *bufio.Scanner, cmd command) bool {
	verb, rest, _ := strings.Cut(cmd.Code, " ")
	switch verb {
	case "quit":
		return false
	case "sleep":
		for {
			time.Sleep(time.Second)
		}
	case "error":
		fmt.Fprintf(os.Stderr, "\x00PYHOST_ERROR:%s\x00", rest)
		return true
	case "stderr":
		fmt.Fprint(os.Stderr, rest)
	case "call":
		req, _ := json.Marshal(map[string]any{
			"fn":   rest,
			"args": map[string]any{"target": cmd.Target, "html": "mock", "append": true},
		})
		fmt.Fprintf(os.Stderr, "\x00PYHOST:%s\x00", req)
		if in.Scan() {
			fmt.Print(in.Text())
		}
	default:
		fmt.Print(cmd.Code)
	}
	fmt.Fprint(os.Stderr, "\x00PYHOST_DONE\x00")
	return true
}
