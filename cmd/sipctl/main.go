// Command sipctl is a terminal-side probe: it connects to a server, runs
// the requested operations and prints each response, with a timing summary
// on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/circkit/sip2/internal/client"
	"github.com/circkit/sip2/internal/logging"
	"github.com/circkit/sip2/internal/sip"
)

func main() {
	var (
		configPath  string
		addr        string
		institution string
		username    string
		password    string
		location    string
		itemID      string
		patronID    string
		patronPwd   string
		patronInfo  bool
	)
	flag.StringVar(&configPath, "config", "", "path to client config file")
	flag.StringVar(&addr, "addr", "", "server address (host:port)")
	flag.StringVar(&institution, "institution", "", "institution id (AO)")
	flag.StringVar(&username, "username", "", "login user id; login is skipped when empty")
	flag.StringVar(&password, "password", "", "login password")
	flag.StringVar(&location, "location", "", "login location code")
	flag.StringVar(&itemID, "item", "", "item barcode for an item information request")
	flag.StringVar(&patronID, "patron", "", "patron barcode for a patron status request")
	flag.StringVar(&patronPwd, "patron-password", "", "patron password")
	flag.BoolVar(&patronInfo, "patron-info", false, "request patron information instead of patron status")
	flag.Parse()

	logging.ConfigureRuntime()

	if err := run(configPath, addr, institution, username, password, location,
		itemID, patronID, patronPwd, patronInfo); err != nil {
		fmt.Fprintf(os.Stderr, "sipctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, addr, institution, username, password, location,
	itemID, patronID, patronPwd string, patronInfo bool) error {

	cfg := client.Config{}.WithDefaults()
	if configPath != "" {
		loaded, err := loadClientConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.Addr = addr
	}
	if institution != "" {
		cfg.Institution = institution
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("no server address (use -addr or a config file)")
	}

	session := client.New(cfg)
	if err := session.Dial(context.Background()); err != nil {
		return err
	}
	defer func() {
		session.MsgLog().LogSummary(log.Logger)
		_ = session.Close()
	}()

	status, err := session.SCStatus(client.StatusOptions{})
	if err != nil {
		return fmt.Errorf("sc status: %w", err)
	}
	printMessage(status)

	if username != "" {
		ok, err := session.Login(username, password, location)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		if !ok {
			return fmt.Errorf("login rejected for %q", username)
		}
		fmt.Printf("login ok user=%s\n", username)
	}

	if itemID != "" {
		resp, err := session.ItemInfo(itemID, client.ItemInfoOptions{})
		if err != nil {
			return fmt.Errorf("item info: %w", err)
		}
		printMessage(resp)
	}

	if patronID != "" {
		var resp *sip.Message
		if patronInfo {
			resp, err = session.PatronInfo(patronID, client.PatronInfoOptions{PatronPwd: patronPwd})
		} else {
			resp, err = session.PatronStatus(patronID, client.PatronStatusOptions{PatronPwd: patronPwd})
		}
		if err != nil {
			return fmt.Errorf("patron lookup: %w", err)
		}
		printMessage(resp)
	}

	return nil
}

func printMessage(m *sip.Message) {
	fmt.Println()
	fmt.Printf("%s (%s)\n", m.Spec.Label, m.Spec.Code)
	for _, ff := range m.FixedFields {
		fmt.Printf("  %-24s %q\n", ff.Spec.Label, ff.Value)
	}
	for _, f := range m.Fields {
		fmt.Printf("  %s %-21s %q\n", f.Spec.Code, f.Spec.Label, f.Value)
	}
}
