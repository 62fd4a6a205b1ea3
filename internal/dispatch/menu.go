package dispatch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

var (
	ErrInvalidPort  = errors.New("port must be a number between 1 and 65535")
	ErrInvalidCount = errors.New("packet count must be a non-negative number")
	ErrEmptyHost    = errors.New("host cannot be empty")
)

const menuText = `
Select mode:
1. Start TCP Server
2. Start TCP Client
3. Start UDP Server
4. Start UDP Client
5. Exit
6. Status
==================================================
`

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return 0, ErrInvalidPort
	}
	return port, nil
}

func parseCount(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, ErrInvalidCount
	}
	return n, nil
}

func parseHost(s string) (string, error) {
	host := strings.TrimSpace(s)
	if host == "" {
		return "", ErrEmptyHost
	}
	return host, nil
}

type prompter struct {
	scanner *bufio.Scanner
	out     io.Writer
}

// ask prints prompt and returns the next input line. ok is false once the
// input is exhausted.
func (p *prompter) ask(prompt string) (line string, ok bool) {
	fmt.Fprint(p.out, prompt)
	if !p.scanner.Scan() {
		return "", false
	}
	return strings.TrimSpace(p.scanner.Text()), true
}

type clientRequest struct {
	host    string
	port    int
	n       int
	message string
}

func (p *prompter) askClient(transport string) (req clientRequest, ok bool, err error) {
	host, ok := p.ask(fmt.Sprintf("Enter %s server IP address: ", transport))
	if !ok {
		return req, false, nil
	}
	portText, ok := p.ask(fmt.Sprintf("Enter %s server port: ", transport))
	if !ok {
		return req, false, nil
	}
	countText, ok := p.ask("Enter nPackets: ")
	if !ok {
		return req, false, nil
	}
	message, ok := p.ask(fmt.Sprintf("Enter message to send to %s server: ", transport))
	if !ok {
		return req, false, nil
	}

	if req.host, err = parseHost(host); err != nil {
		return req, true, err
	}
	if req.port, err = parsePort(portText); err != nil {
		return req, true, err
	}
	if req.n, err = parseCount(countText); err != nil {
		return req, true, err
	}
	req.message = message
	return req, true, nil
}

// Menu runs the interactive console until the user exits or in is exhausted.
// Invalid input is reported and the menu continues. Client runs are started
// in the background; Menu does not wait for them.
func (d *Dispatcher) Menu(in io.Reader, out io.Writer) error {
	p := &prompter{scanner: bufio.NewScanner(in), out: out}

	fmt.Fprint(out, menuText)

	for {
		choice, ok := p.ask("$ ")
		if !ok {
			return p.scanner.Err()
		}

		switch choice {
		case "1", "3":
			transport := "TCP"
			if choice == "3" {
				transport = "UDP"
			}
			text, ok := p.ask(fmt.Sprintf("Enter port to start the %s server: ", transport))
			if !ok {
				return p.scanner.Err()
			}
			port, err := parsePort(text)
			if err != nil {
				fmt.Fprintf(out, "Invalid port number: %v. Please try again.\n\n", err)
				continue
			}
			fmt.Fprintf(out, "Starting %s Server...\n", transport)
			if transport == "TCP" {
				err = d.StartTCPServer(port)
			} else {
				err = d.StartUDPServer(port)
			}
			if err != nil {
				fmt.Fprintf(out, "%s server failed: %v\n\n", transport, err)
			}

		case "2", "4":
			transport := "TCP"
			if choice == "4" {
				transport = "UDP"
			}
			req, ok, err := p.askClient(transport)
			if !ok {
				return p.scanner.Err()
			}
			if err != nil {
				fmt.Fprintf(out, "Invalid input: %v. Please try again.\n\n", err)
				continue
			}
			fmt.Fprintf(out, "\nStarting %s Client...\n", transport)
			if transport == "TCP" {
				d.StartTCPClient(req.host, req.port, req.n, req.message)
			} else {
				d.StartUDPClient(req.host, req.port, req.n, req.message)
			}

		case "5":
			fmt.Fprintln(out, "Exiting program.")
			return nil

		case "6":
			printStatus(out, d.Status())

		default:
			fmt.Fprint(out, "Invalid choice. Please try again.\n\n")
		}
	}
}

func printStatus(out io.Writer, st Status) {
	fmt.Fprintf(out, "TCP servers: %v (%d sessions)\n", st.TCPServers, st.TCPSessions)
	fmt.Fprintf(out, "UDP servers: %v (%d sessions)\n", st.UDPServers, st.UDPSessions)
	fmt.Fprintf(out, "Clients: %d running, %d finished\n", st.ClientsRunning, st.ClientsDone)
	if st.Monitor != "" {
		fmt.Fprintf(out, "Monitor: %s\n", st.Monitor)
	}
}
