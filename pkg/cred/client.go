// Package cred is the game store's stub to the external credential store.
// Each RPC dials a fresh connection, sends one framed request and reads one
// framed response. Passwords pass through; only the principal name is kept
// by the caller's session.
package cred

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/crystal-arcade/gamestore/pkg/wire"
)

// Kind selects one of the two disjoint principal namespaces.
type Kind string

const (
	Developer Kind = "Developer"
	Player    Kind = "Player"
)

var (
	// ErrExists means the name is already taken in that namespace.
	ErrExists = errors.New("cred: principal already exists")
	// ErrNotFound means no principal with that name exists.
	ErrNotFound = errors.New("cred: principal not found")
	// ErrWrongPassword means the credentials did not verify.
	ErrWrongPassword = errors.New("cred: wrong password")
)

// Client talks to one credential store address.
type Client struct {
	host string
	port int

	// DialTimeout bounds connection establishment. The store is expected to
	// be local; the default is generous anyway.
	DialTimeout time.Duration
}

// NewClient builds a client for the store at host:port.
func NewClient(host string, port int) *Client {
	return &Client{host: host, port: port, DialTimeout: 5 * time.Second}
}

// CreatePrincipal registers a new principal of the given kind.
func (c *Client) CreatePrincipal(kind Kind, name, password string) error {
	resp, err := c.call(string(kind), "create", map[string]string{
		"name":     name,
		"password": password,
	})
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	if strings.Contains(resp.Message, "already exists") {
		return ErrExists
	}
	return fmt.Errorf("cred: create %s %q: %s", kind, name, resp.Message)
}

// VerifyCredentials checks a name/password pair of the given kind.
func (c *Client) VerifyCredentials(kind Kind, name, password string) error {
	resp, err := c.call(string(kind), "query", map[string]string{
		"type":     "login",
		"name":     name,
		"password": password,
	})
	if err != nil {
		return err
	}
	if resp.IsSuccess() {
		return nil
	}
	switch {
	case strings.Contains(resp.Message, "not found"):
		return ErrNotFound
	case strings.Contains(resp.Message, "Wrong password"):
		return ErrWrongPassword
	}
	return fmt.Errorf("cred: verify %s %q: %s", kind, name, resp.Message)
}

// call performs one dial-request-response cycle against the store.
func (c *Client) call(collection, action string, data interface{}) (wire.Response, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return wire.Response{}, fmt.Errorf("cred: encode request: %w", err)
	}

	nc, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", c.host, c.port), c.DialTimeout)
	if err != nil {
		return wire.Response{}, fmt.Errorf("cred: connect to store: %w", err)
	}
	conn := wire.NewConn(nc)
	defer conn.Close()

	req := struct {
		Collection string          `json:"collection"`
		Action     string          `json:"action"`
		Data       json.RawMessage `json:"data"`
	}{collection, action, raw}

	if err := conn.WriteJSON(req); err != nil {
		return wire.Response{}, err
	}

	payload, err := conn.ReadFrame(10 * time.Second)
	if err != nil {
		return wire.Response{}, fmt.Errorf("cred: read response: %w", err)
	}
	var resp wire.Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return wire.Response{}, fmt.Errorf("cred: decode response: %w", err)
	}
	return resp, nil
}
