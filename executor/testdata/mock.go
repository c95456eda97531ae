//go:build wasip1

// Mock interpreter for testing sessions without a real Python or R build.
// Build with: GOOS=wasip1 GOARCH=wasm go build -o mock.wasm mock.go
//
// Each line of an eval payload is one statement:
//
//	print TEXT     write TEXT to stdout
//	warn TEXT      write TEXT to stderr
//	set NAME=VAL   bind a global
//	fail MSG       raise an error
//	call FN NAME   host call, printing the result
//	spin           loop forever
//	exit           exit the interpreter
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

const rs = "\x1e"

var (
	in      = bufio.NewReader(os.Stdin)
	globals = map[string]string{}
)

func signal(kind string, payload ...string) {
	msg := rs + "LAB_" + kind
	if len(payload) > 0 {
		msg += ":" + strings.ReplaceAll(payload[0], rs, " ")
	}
	fmt.Fprint(os.Stderr, msg+rs)
}

func call(fn, name string) (string, error) {
	req, _ := json.Marshal(map[string]any{"fn": fn, "args": map[string]any{"name": name}})
	fmt.Fprint(os.Stderr, rs+"LAB:"+string(req)+rs)
	line, err := in.ReadString('\n')
	if err != nil {
		return "", err
	}
	var resp struct {
		Data  any    `json:"data"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal([]byte(line), &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", errors.New(resp.Error)
	}
	return fmt.Sprint(resp.Data), nil
}

func run(code string, stdout, stderr io.Writer) error {
	for _, line := range strings.Split(code, "\n") {
		op, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
		switch op {
		case "":
		case "print":
			fmt.Fprintln(stdout, arg)
		case "warn":
			fmt.Fprintln(stderr, arg)
		case "set":
			k, v, _ := strings.Cut(arg, "=")
			globals[k] = v
		case "fail":
			return errors.New(arg)
		case "call":
			fn, name, _ := strings.Cut(arg, " ")
			v, err := call(fn, name)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, v)
		case "spin":
			for {
			}
		case "exit":
			os.Exit(0)
		default:
			return fmt.Errorf("NameError: name '%s' is not defined", op)
		}
	}
	return nil
}

func frames(stream string, text string) string {
	var b strings.Builder
	for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
		if line == "" {
			continue
		}
		fmt.Fprintf(&b, "%s %d\n%s", stream, len(line), line)
	}
	return b.String()
}

func main() {
	signal("READY")

	for {
		header, err := in.ReadString('\n')
		if err != nil {
			return
		}
		kind, size, _ := strings.Cut(strings.TrimSpace(header), " ")
		n, _ := strconv.Atoi(size)
		buf := make([]byte, n)
		if _, err := io.ReadFull(in, buf); err != nil {
			return
		}
		payload := string(buf)

		switch kind {
		case "exit":
			return
		case "eval":
			if err := run(payload, os.Stdout, os.Stderr); err != nil {
				signal("ERROR", err.Error())
				continue
			}
			signal("DONE")
		case "scoped":
			var out, errb strings.Builder
			var failure string
			if err := run(payload, &out, &errb); err != nil {
				failure = err.Error()
			}
			signal("VALUE", frames("stdout", out.String())+frames("stderr", errb.String())+frames("error", failure))
		case "globals":
			names := make([]string, 0, len(globals))
			for k := range globals {
				names = append(names, k)
			}
			sort.Strings(names)
			signal("VALUE", strings.Join(names, "\n"))
		case "remove":
			for _, name := range strings.Split(payload, "\n") {
				delete(globals, name)
			}
			signal("DONE")
		case "invalidate":
			signal("DONE")
		default:
			signal("ERROR", "unknown command: "+kind)
		}
	}
}
