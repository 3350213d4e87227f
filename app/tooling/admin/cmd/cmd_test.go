package cmd

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const (
	success = "\u2713"
	failed  = "\u2717"
)

type captured struct {
	method string
	path   string
	body   string
}

func newServer(t *testing.T, status int, resp string) (*httptest.Server, *captured) {
	var c captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c = captured{method: r.Method, path: r.URL.Path, body: string(data)}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write([]byte(resp))
	}))
	t.Cleanup(srv.Close)

	return srv, &c
}

func execute(args ...string) (string, error) {
	data = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	return out.String(), err
}

func Test_Commands(t *testing.T) {
	type request struct {
		Data    string `json:"data"`
		Address string `json:"address"`
		Message string `json:"message"`
	}

	tt := []struct {
		name   string
		args   []string
		method string
		path   string
		body   request
	}{
		{"chain", []string{"chain"}, http.MethodGet, "/v1/blockchain", request{}},
		{"block", []string{"block", "2"}, http.MethodGet, "/v1/block/2", request{}},
		{"validate", []string{"validate"}, http.MethodGet, "/v1/validate", request{}},
		{"nextblock", []string{"mine"}, http.MethodGet, "/v1/nextblock", request{}},
		{"mine", []string{"mine", "-d", "hello"}, http.MethodPost, "/v1/blocks", request{Data: "hello"}},
		{"peers", []string{"peers"}, http.MethodGet, "/v1/peers", request{}},
		{"connect", []string{"connect", "ws://localhost:9180"}, http.MethodPost, "/v1/peers", request{Address: "ws://localhost:9180"}},
		{"broadcast", []string{"broadcast", "ping"}, http.MethodPost, "/v1/broadcast", request{Message: "ping"}},
	}

	t.Log("Given the need to drive the node api from the command line.")
	{
		for testID, test := range tt {
			tf := func(t *testing.T) {
				t.Logf("\tTest %d:\tWhen running %v.", testID, test.args)
				{
					srv, c := newServer(t, http.StatusOK, `{"ok":true}`)

					args := append([]string{"--url", srv.URL, "--private-url", srv.URL}, test.args...)
					out, err := execute(args...)
					if err != nil {
						t.Fatalf("\t%s\tTest %d:\tShould be able to run the command: %v", failed, testID, err)
					}
					t.Logf("\t%s\tTest %d:\tShould be able to run the command.", success, testID)

					if c.method != test.method || c.path != test.path {
						t.Fatalf("\t%s\tTest %d:\tShould call %s %s: got %s %s", failed, testID, test.method, test.path, c.method, c.path)
					}
					t.Logf("\t%s\tTest %d:\tShould call %s %s.", success, testID, test.method, test.path)

					if test.method == http.MethodPost {
						var got request
						if err := json.Unmarshal([]byte(c.body), &got); err != nil {
							t.Fatalf("\t%s\tTest %d:\tShould send a json body: %v", failed, testID, err)
						}
						if got != test.body {
							t.Fatalf("\t%s\tTest %d:\tShould send %+v: got %+v", failed, testID, test.body, got)
						}
						t.Logf("\t%s\tTest %d:\tShould send the expected body.", success, testID)
					}

					if !strings.Contains(out, `"ok": true`) {
						t.Fatalf("\t%s\tTest %d:\tShould print the indented response: %q", failed, testID, out)
					}
					t.Logf("\t%s\tTest %d:\tShould print the indented response.", success, testID)
				}
			}

			t.Run(test.name, tf)
		}
	}
}

func Test_CommandErrors(t *testing.T) {
	t.Log("Given the node rejects a request.")
	{
		srv, _ := newServer(t, http.StatusBadRequest, `{"error":"data validation error","fields":{"address":"address must be a valid URL"}}`)

		_, err := execute("--private-url", srv.URL, "connect", "localhost")
		if err == nil || !strings.Contains(err.Error(), "data validation error") {
			t.Fatalf("\t%s\tShould surface the node's error: %v", failed, err)
		}
		t.Logf("\t%s\tShould surface the node's error.", success)

		if _, err := execute("--url", srv.URL, "block", "abc"); err == nil {
			t.Fatalf("\t%s\tShould reject a bad height before calling the node.", failed)
		}
		t.Logf("\t%s\tShould reject a bad height before calling the node.", success)
	}
}
