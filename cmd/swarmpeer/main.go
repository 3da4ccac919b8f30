// Command swarmpeer runs one peer process of a static-topology piece-swarm
// file distribution swarm (spec.md §1). One process corresponds to one row
// of PeerInfo.cfg; invoke it once per peer with that row's peer id.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cenkalti/boltbrowser/boltbrowser"
	clog "github.com/cenkalti/log"
	"github.com/hokaccha/go-prettyjson"
	"github.com/urfave/cli"

	"github.com/go-swarm/swarmpeer/internal/audit"
	"github.com/go-swarm/swarmpeer/internal/config"
	"github.com/go-swarm/swarmpeer/internal/connection"
	"github.com/go-swarm/swarmpeer/internal/localpeer"
	"github.com/go-swarm/swarmpeer/internal/logger"
	"github.com/go-swarm/swarmpeer/internal/netio"
	"github.com/go-swarm/swarmpeer/internal/scheduler"
	"github.com/go-swarm/swarmpeer/internal/storage"
)

var (
	app = cli.NewApp()
	log = logger.New("swarmpeer")
)

func main() {
	app.Name = "swarmpeer"
	app.Usage = "static-topology piece-swarm file distribution peer"
	app.ArgsUsage = "<peerID>"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug, d",
			Usage: "enable debug log",
		},
		cli.StringFlag{
			Name:  "common",
			Usage: "read protocol parameters from `FILE`",
			Value: "Common.cfg",
		},
		cli.StringFlag{
			Name:  "peerinfo",
			Usage: "read the peer roster from `FILE`",
			Value: "PeerInfo.cfg",
		},
		cli.StringFlag{
			Name:  "config",
			Usage: "read ambient overrides from `FILE`",
			Value: "~/.swarmpeer/config.yaml",
		},
		cli.StringFlag{
			Name:  "outdir",
			Usage: "directory under which peer_<id> output folders are created",
			Value: ".",
		},
	}
	app.Before = handleBefore
	app.Action = handleRun
	app.Commands = []cli.Command{
		{
			Name:   "inspect",
			Hidden: true,
			Usage:  "browse a peer's audit ledger",
			Action: handleInspect,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func handleBefore(c *cli.Context) error {
	if c.GlobalBool("debug") {
		logger.SetLevel(clog.DEBUG)
	}
	return nil
}

// handleInspect opens a peer's audit.db with boltbrowser, the same way the
// teacher's handleBoltBrowser opens an arbitrary bolt database (main.go).
func handleInspect(c *cli.Context) error {
	db, err := bolt.Open(c.Args().Get(0), 0600, nil)
	if err != nil {
		return err
	}
	boltbrowser.Browse(db, false)
	return db.Close()
}

func handleRun(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.NewExitError("swarmpeer: missing <peerID> argument", 1)
	}
	id64, err := strconv.ParseInt(c.Args().Get(0), 10, 32)
	if err != nil {
		return fmt.Errorf("swarmpeer: invalid peer id %q: %w", c.Args().Get(0), err)
	}
	localID := int32(id64)
	plog := logger.New(fmt.Sprintf("peer %d", localID))

	commonPath, err := config.ExpandPath(c.GlobalString("common"))
	if err != nil {
		return err
	}
	peersPath, err := config.ExpandPath(c.GlobalString("peerinfo"))
	if err != nil {
		return err
	}
	cfg, err := config.ParseCommon(commonPath)
	if err != nil {
		return err
	}
	entries, err := config.ParsePeerInfo(peersPath)
	if err != nil {
		return err
	}
	self, ok := config.Self(entries, localID)
	if !ok {
		return fmt.Errorf("swarmpeer: peer id %d not present in %s", localID, peersPath)
	}

	overrides, err := config.LoadOverrides(c.GlobalString("config"))
	if err != nil {
		return err
	}
	if lvl, ok := parseLevel(overrides.LogLevel); ok {
		logger.SetLevel(lvl)
	}
	if c.GlobalBool("debug") {
		logger.SetLevel(clog.DEBUG)
	}

	outDir := c.GlobalString("outdir")

	var content [][]byte
	if self.HasFile {
		raw, err := storage.ReadSeedFile(outDir, localID, cfg.FileName)
		if err != nil {
			return fmt.Errorf("swarmpeer: peer %d: reading seed file: %w", localID, err)
		}
		content = storage.SplitIntoPieces(raw, cfg.PieceSize, cfg.NumberOfPieces())
	}

	auditDir := overrides.AuditDir
	if auditDir == "" {
		auditDir = storage.OutputDir(outDir, localID)
	}
	if err := os.MkdirAll(auditDir, 0755); err != nil {
		return err
	}
	ledger, err := audit.Open(filepath.Join(auditDir, "audit.db"))
	if err != nil {
		return fmt.Errorf("swarmpeer: opening audit ledger: %w", err)
	}
	defer ledger.Close()

	lp := localpeer.New(localID, cfg, self.HasFile, content, outDir, ledger, plog)

	srv, err := netio.Listen(self.Port, logger.New(fmt.Sprintf("peer %d listener", localID)))
	if err != nil {
		return err
	}

	expectedAccept := make(map[int32]bool)
	for _, id := range config.ExpectedAcceptIDs(entries, localID) {
		expectedAccept[id] = true
	}

	go srv.Serve(func(conn net.Conn) *connection.Manager {
		connLog := logger.New(fmt.Sprintf("peer %d <- ?", localID))
		validateRemote := func(remoteID int32) bool {
			// Authorized by the static roster, and not already registered —
			// the latter rejects a duplicate/replay accept connection from a
			// peer id whose earlier connection already completed handshake.
			return expectedAccept[remoteID] && !lp.Registry.Has(remoteID)
		}
		m := connection.New(conn, localID, -1, false, cfg.NumberOfPieces(), lp,
			validateRemote, overrides.OutboundQueueDepth, overrides.ConnectReadTimeout, connLog)
		m.Ready = func(remoteID int32, mgr *connection.Manager) { lp.Registry.Add(remoteID, mgr) }
		return m
	})

	for _, target := range config.DialTargets(entries, localID) {
		connLog := logger.New(fmt.Sprintf("peer %d -> %d", localID, target.ID))
		conn, err := netio.Dial(target.Hostname, target.Port, overrides.DialTimeout)
		if err != nil {
			plog.Errorf("failed to dial peer %d at %s:%d: %v", target.ID, target.Hostname, target.Port, err)
			continue
		}
		m := connection.New(conn, localID, target.ID, true, cfg.NumberOfPieces(), lp, nil,
			overrides.OutboundQueueDepth, overrides.ConnectReadTimeout, connLog)
		lp.Registry.Add(target.ID, m)
		go m.Run()
	}

	sched := scheduler.New(lp.Registry, lp.LocalComplete, cfg.NumberOfPreferredNeighbors,
		time.Duration(cfg.UnchokingInterval)*time.Second,
		time.Duration(cfg.OptimisticUnchokingInterval)*time.Second,
		logger.New(fmt.Sprintf("peer %d scheduler", localID)))
	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-lp.Done:
		plog.Notice("swarm terminated: local peer holds the complete file")
	case s := <-sigCh:
		plog.Noticef("received %s, shutting down early", s)
	}

	sched.Stop()
	_ = srv.Close()

	if lp.Summary.OutputFile != "" {
		b, err := prettyjson.Marshal(lp.Summary)
		if err != nil {
			return err
		}
		_, _ = os.Stdout.Write(b)
		_, _ = os.Stdout.WriteString("\n")
	}
	return nil
}

func parseLevel(s string) (clog.Level, bool) {
	switch s {
	case "debug":
		return clog.DEBUG, true
	case "info":
		return clog.INFO, true
	case "notice":
		return clog.NOTICE, true
	case "warning":
		return clog.WARNING, true
	case "error":
		return clog.ERROR, true
	case "critical":
		return clog.CRITICAL, true
	default:
		return 0, false
	}
}
