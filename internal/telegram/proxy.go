package telegram

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"

	"golang.org/x/net/proxy"

	"github.com/blockedby/positions-os/internal/models"
)

// dialContextFunc matches gotd's dcs.PlainOptions.Dial signature.
type dialContextFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// dialerForAccount builds the dial function gotd should use to reach the
// Telegram datacenters for one account, honoring its configured proxy.
// Accounts without a proxy dial directly.
func dialerForAccount(acc *models.Account) (dialContextFunc, error) {
	if !acc.HasProxy() {
		var d net.Dialer
		return d.DialContext, nil
	}

	addr := fmt.Sprintf("%s:%d", *acc.ProxyHost, *acc.ProxyPort)

	switch acc.ProxyType {
	case models.ProxyTypeSOCKS5:
		var auth *proxy.Auth
		if acc.ProxyUsername != nil {
			auth = &proxy.Auth{User: *acc.ProxyUsername}
			if acc.ProxyPassword != nil {
				auth.Password = *acc.ProxyPassword
			}
		}
		dialer, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("build socks5 dialer: %w", err)
		}
		return func(ctx context.Context, network, target string) (net.Conn, error) {
			if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
				return ctxDialer.DialContext(ctx, network, target)
			}
			return dialer.Dial(network, target)
		}, nil

	case models.ProxyTypeHTTP:
		return httpConnectDialer(addr, acc.ProxyUsername, acc.ProxyPassword), nil

	default:
		var d net.Dialer
		return d.DialContext, nil
	}
}

// httpConnectDialer returns a dial function that opens the TCP connection to
// proxyAddr and issues a CONNECT request for the real target before handing
// the raw connection back to the MTProto transport.
func httpConnectDialer(proxyAddr string, username, password *string) dialContextFunc {
	return func(ctx context.Context, network, target string) (net.Conn, error) {
		var d net.Dialer
		conn, err := d.DialContext(ctx, network, proxyAddr)
		if err != nil {
			return nil, fmt.Errorf("dial http proxy: %w", err)
		}

		req := fmt.Sprintf("CONNECT %s HTTP/1.1\r\nHost: %s\r\n", target, target)
		if username != nil {
			req += fmt.Sprintf("Proxy-Authorization: Basic %s\r\n", basicAuth(*username, derefOrEmpty(password)))
		}
		req += "\r\n"

		if _, err := conn.Write([]byte(req)); err != nil {
			conn.Close()
			return nil, fmt.Errorf("write connect request: %w", err)
		}

		if err := readConnectResponse(conn); err != nil {
			conn.Close()
			return nil, err
		}

		return conn, nil
	}
}

func derefOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func basicAuth(username, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
}

func readConnectResponse(conn net.Conn) error {
	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: http.MethodConnect})
	if err != nil {
		return fmt.Errorf("read connect response: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("proxy connect failed: %s", resp.Status)
	}
	return nil
}
