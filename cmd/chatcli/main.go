// Command chatcli is a terminal client for manual testing: it registers or
// logs in, then relays stdin lines to the server and server lines to stdout.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/coder/websocket"
)

func main() {
	addr := flag.String("addr", "localhost:5000", "TCP address, or ws:// URL of the /ws bridge")
	user := flag.String("user", "", "username")
	register := flag.Bool("register", false, "register the user and exit")
	timeout := flag.Duration("timeout", 5*time.Second, "dial timeout")
	flag.Parse()

	stdin := bufio.NewReader(os.Stdin)
	name := *user
	if name == "" {
		var err error
		if name, err = promptLine(stdin, "Username", os.Stdout); err != nil {
			log.Fatalf("read username: %v", err)
		}
	}
	password, err := promptPassword(os.Stdout)
	if err != nil {
		log.Fatalf("read password: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	conn, err := dial(ctx, *addr, *timeout)
	if err != nil {
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	verb := "LOGIN"
	if *register {
		verb = "REGISTER"
	}
	if _, err := fmt.Fprintf(conn, "%s:%s:%s\n", verb, name, password); err != nil {
		log.Fatalf("send: %v", err)
	}

	go func() {
		<-ctx.Done()
		_, _ = io.WriteString(conn, "LOGOUT\n")
		_ = conn.Close()
	}()
	go relay(stdin, conn)

	if err := printLines(conn, os.Stdout); err != nil {
		log.Printf("connection closed: %v", err)
	}
}

func dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		ws, _, err := websocket.Dial(dialCtx, addr, nil)
		if err != nil {
			return nil, err
		}
		return websocket.NetConn(ctx, ws, websocket.MessageText), nil
	}
	var d net.Dialer
	return d.DialContext(dialCtx, "tcp", addr)
}

// relay forwards stdin lines until EOF, then logs out.
func relay(r *bufio.Reader, w io.Writer) {
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			if _, werr := io.WriteString(w, line+"\n"); werr != nil {
				return
			}
		}
		if err != nil {
			_, _ = io.WriteString(w, "LOGOUT\n")
			return
		}
	}
}

// printLines copies server lines to w, expanding history blobs one entry per line.
func printLines(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	for scanner.Scan() {
		if _, err := fmt.Fprintln(w, render(scanner.Text())); err != nil {
			return err
		}
	}
	return scanner.Err()
}
