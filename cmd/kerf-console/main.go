// kerf-console bridges an instance's mktty console device to a remote
// operator over a websocket, so an operator can attach to an instance
// without a local terminal on the host running the multikernel kernel
// ("kerf console" and "kerf exec" only point the user at this tool).
// "serve" runs on the host and owns the mktty fd; "attach" runs on the
// operator's machine and puts the local terminal in raw mode for the
// duration of the session.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/gorilla/websocket"
	"golang.org/x/sys/unix"
)

const mkttyDevice = "/dev/mktty"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(os.Args[2:])
	case "attach":
		err = runAttach(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kerf-console: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s serve -listen <addr> | attach -url <ws-url>\n", os.Args[0])
}

// runServe opens an instance's console and exposes it over a websocket
// at /console/<instance-id>. If mktty is not present, it falls back to
// a local pty running a shell, so the streaming path can be exercised
// without the multikernel kernel module loaded.
func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	listen := fs.String("listen", ":7780", "address to listen on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/console/", func(w http.ResponseWriter, r *http.Request) {
		instanceID := r.URL.Path[len("/console/"):]
		if instanceID == "" {
			http.Error(w, "instance id required", http.StatusBadRequest)
			return
		}

		console, err := openConsole(instanceID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer console.Close()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		bridgeWebsocket(conn, console)
	})

	fmt.Printf("kerf-console serving on %s\n", *listen)
	return http.ListenAndServe(*listen, mux)
}

// consoleConn is either the real mktty device or a pty-backed fallback
// shell, both exposing the same io.ReadWriteCloser surface.
type consoleConn struct {
	io.ReadWriteCloser
}

func openConsole(instanceID string) (*consoleConn, error) {
	if _, err := os.Stat(mkttyDevice); err == nil {
		f, err := os.OpenFile(mkttyDevice, os.O_RDWR, 0)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", mkttyDevice, err)
		}
		if _, err := f.WriteString(instanceID + "\n"); err != nil {
			f.Close()
			return nil, fmt.Errorf("select instance %s on %s: %w", instanceID, mkttyDevice, err)
		}
		return &consoleConn{f}, nil
	}

	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	f, err := pty.Start(exec.Command(shell))
	if err != nil {
		return nil, fmt.Errorf("%s not found and pty fallback failed: %w", mkttyDevice, err)
	}
	return &consoleConn{f}, nil
}

// bridgeWebsocket copies bytes both directions until either side closes.
func bridgeWebsocket(conn *websocket.Conn, console io.ReadWriteCloser) {
	done := make(chan struct{})

	go func() {
		defer close(done)
		buf := make([]byte, 32*1024)
		for {
			n, err := console.Read(buf)
			if n > 0 {
				if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.BinaryMessage && msgType != websocket.TextMessage {
			continue
		}
		if _, err := console.Write(data); err != nil {
			break
		}
	}
	<-done
}

// runAttach connects to a kerf-console serve endpoint and bridges the
// local terminal to it, putting stdin in raw mode for the duration of
// the session so control characters pass through untouched.
func runAttach(args []string) error {
	fs := flag.NewFlagSet("attach", flag.ExitOnError)
	url := fs.String("url", "", "websocket URL, e.g. ws://host:7780/console/<instance>")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *url == "" {
		return fmt.Errorf("attach: -url is required")
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", *url, err)
	}
	defer conn.Close()

	fd := int(os.Stdin.Fd())
	restore, rawErr := setRawMode(fd)
	if rawErr == nil {
		defer restore()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 32*1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if err := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); err != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-sigCh:
			return nil
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return err
		}
	}
}

// setRawMode puts fd in raw mode and returns a function restoring its
// original termios settings.
func setRawMode(fd int) (func(), error) {
	original, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return func() {}, err
	}

	raw := *original
	raw.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	raw.Oflag &^= unix.OPOST
	raw.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	raw.Cflag &^= unix.CSIZE | unix.PARENB
	raw.Cflag |= unix.CS8
	raw.Cc[unix.VMIN] = 1
	raw.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, &raw); err != nil {
		return func() {}, err
	}
	return func() {
		unix.IoctlSetTermios(fd, unix.TCSETS, original)
	}, nil
}
