// Command syncd is a local CLI for one replica: it can initialize a vault,
// add/inspect/mutate entities locally, and run the daemon that discovers
// peers and keeps them in sync. Dispatches on os.Args[1] with a
// flag.FlagSet per subcommand.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/amaydixit11/syncd/internal/applicator"
	"github.com/amaydixit11/syncd/internal/engine"
	"github.com/amaydixit11/syncd/internal/identity"
	"github.com/amaydixit11/syncd/internal/ids"
	"github.com/amaydixit11/syncd/internal/keystore"
	"github.com/amaydixit11/syncd/internal/logging"
	"github.com/amaydixit11/syncd/internal/model"
	"github.com/amaydixit11/syncd/internal/orchestrator"
	"github.com/amaydixit11/syncd/internal/pairing"
	"github.com/amaydixit11/syncd/internal/policy"
	"github.com/amaydixit11/syncd/internal/policystore"
	"github.com/amaydixit11/syncd/internal/storage/sqlite"
	"github.com/amaydixit11/syncd/internal/transport/p2p"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "init":
		cmdInit(args)
	case "daemon":
		cmdDaemon(args)
	case "invite":
		cmdInvite(args)
	case "pair":
		cmdPair(args)
	case "status":
		cmdStatus(args)
	case "add":
		cmdAdd(args)
	case "get":
		cmdGet(args)
	case "list":
		cmdList(args)
	case "update":
		cmdUpdate(args)
	case "delete":
		cmdDelete(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`syncd - a local-first distributed-sync replica

Usage:
  syncd init     [--data dir]                    Initialize a new vault
  syncd daemon   [--data dir] [--port n] [--dht]  Run the sync daemon
  syncd invite   [--data dir] [--expiry 24h]      Print a pairing invite
  syncd pair     <invite-code> [--data dir]       Redeem a pairing invite
  syncd status   [--data dir]                     Show vault status
  syncd add      [--data dir] --type t --content c [--tags a,b]
  syncd get      <uuid> [--data dir]
  syncd list     [--data dir] [--type t] [--tag t]
  syncd update   <uuid> [--data dir] --content c
  syncd delete   <uuid> [--data dir]
  syncd help                                      Show this message`)
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".syncd"
	}
	return filepath.Join(home, ".syncd")
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		var password string
		fmt.Scanln(&password)
		return []byte(password), nil
	}
	pw, err := term.ReadPassword(fd)
	fmt.Println()
	return pw, err
}

func cmdInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	fs.Parse(args)

	dir := *dataDir
	if dir == "" {
		dir = defaultDataDir()
	}

	ks := keystore.New(dir)
	if ks.IsInitialized() {
		fmt.Println("Vault already initialized.")
		return
	}

	pass1, err := readPassword("Enter new password: ")
	if err != nil {
		log.Fatalf("read password: %v", err)
	}
	pass2, err := readPassword("Confirm password: ")
	if err != nil {
		log.Fatalf("read password: %v", err)
	}
	if string(pass1) != string(pass2) {
		fmt.Println("Passwords do not match!")
		os.Exit(1)
	}
	if err := ks.Initialize(pass1); err != nil {
		log.Fatalf("initialize: %v", err)
	}

	id, err := identity.Load(dir)
	if err != nil {
		log.Fatalf("create identity: %v", err)
	}
	fmt.Printf("Vault initialized at %s\n", dir)
	fmt.Printf("Peer id: %s\n", id.PeerID)
}

// replica bundles everything a local (non-daemon) command needs to read or
// mutate the entity/event stores directly, without running the
// orchestrator's actor loop.
type replica struct {
	id          *identity.Identity
	keystore    *keystore.Keystore
	entityStore *sqlite.EntityStore
	eventStore  *sqlite.EventStore
	clock       *ids.Clock
}

func openReplica(dataDir string) *replica {
	id, err := identity.Load(dataDir)
	if err != nil {
		log.Fatalf("load identity: %v", err)
	}

	ks := keystore.New(dataDir)
	if ks.IsInitialized() {
		password, err := readPassword("Vault is encrypted. Enter password: ")
		if err != nil {
			log.Fatalf("read password: %v", err)
		}
		if err := ks.Unlock(password); err != nil {
			log.Fatalf("unlock: %v", err)
		}
	}

	entityStore, err := sqlite.NewEntityStore(filepath.Join(dataDir, "entities.db"))
	if err != nil {
		log.Fatalf("open entity store: %v", err)
	}
	entityStore.SetEncryptor(ks)

	eventStore, err := sqlite.NewEventStore(filepath.Join(dataDir, "events.db"))
	if err != nil {
		log.Fatalf("open event store: %v", err)
	}

	return &replica{
		id:          id,
		keystore:    ks,
		entityStore: entityStore,
		eventStore:  eventStore,
		clock:       ids.NewClock(id.PeerID),
	}
}

func (r *replica) Close() {
	r.entityStore.Close()
	r.eventStore.Close()
}

// recordLocal applies ev to the entity store, appends it to the event log,
// and invalidates the entity's sync-ledger rows. The orchestrator's
// recordLocalEvent does the last two for a running daemon (it does not
// apply the event); a one-shot CLI invocation has no actor loop to send the
// command through.
func (r *replica) recordLocal(ev model.Event) error {
	if _, err := applicator.Apply(ev, r.entityStore, nil); err != nil {
		return fmt.Errorf("apply: %w", err)
	}
	if err := r.eventStore.SaveEvent(ev); err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return r.entityStore.InvalidateSyncLedgerForEntity(ev.EntityID)
}

func cmdAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	entryType := fs.String("type", "note", "entity type")
	content := fs.String("content", "", "entity content")
	tagsStr := fs.String("tags", "", "comma-separated tags")
	fs.Parse(args)

	r := openReplica(resolveDataDir(*dataDir))
	defer r.Close()

	var tags []string
	if *tagsStr != "" {
		for _, t := range strings.Split(*tagsStr, ",") {
			tags = append(tags, strings.TrimSpace(t))
		}
	}
	data, err := json.Marshal(map[string]interface{}{"content": *content, "tags": tags})
	if err != nil {
		log.Fatalf("encode content: %v", err)
	}

	entityID := ids.NewEntityId()
	ev := model.NewEvent(entityID, r.id.PeerID, r.clock.Tick(), model.Payload{
		Kind:       model.PayloadEntityCreated,
		EntityType: *entryType,
		JSONData:   data,
	})
	if err := r.recordLocal(ev); err != nil {
		log.Fatalf("add: %v", err)
	}
	fmt.Printf("Added %s (%s)\n", entityID, *entryType)
}

func cmdGet(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: syncd get <uuid> [--data dir]")
		os.Exit(1)
	}
	id, err := ids.ParseEntityId(args[0])
	if err != nil {
		log.Fatalf("invalid entity id: %v", err)
	}

	fs := flag.NewFlagSet("get", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	fs.Parse(args[1:])

	r := openReplica(resolveDataDir(*dataDir))
	defer r.Close()

	entity, err := r.entityStore.GetEntity(id)
	if err != nil {
		log.Fatalf("get: %v", err)
	}
	if entity == nil {
		fmt.Println("Not found.")
		return
	}
	printEntity(*entity)
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	typeStr := fs.String("type", "", "filter by entity type")
	tag := fs.String("tag", "", "filter by tag")
	fs.Parse(args)

	r := openReplica(resolveDataDir(*dataDir))
	defer r.Close()

	var entities []model.Entity
	var err error
	if *typeStr != "" {
		entities, err = r.entityStore.ListEntities(*typeStr, false, 500, 0)
	} else {
		entities, err = r.entityStore.ListAllEntities(false)
	}
	if err != nil {
		log.Fatalf("list: %v", err)
	}

	if len(entities) == 0 {
		fmt.Println("No entities found.")
		return
	}
	for _, e := range entities {
		if *tag != "" && !hasTag(e, *tag) {
			continue
		}
		preview := string(e.Data)
		if len(preview) > 60 {
			preview = preview[:60]
		}
		fmt.Printf("%s [%s] %s\n", e.ID.String()[:8], e.EntityType, preview)
	}
}

func hasTag(e model.Entity, tag string) bool {
	var doc struct {
		Tags []string `json:"tags"`
	}
	if json.Unmarshal(e.Data, &doc) != nil {
		return false
	}
	for _, t := range doc.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func cmdUpdate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: syncd update <uuid> --content c [--data dir]")
		os.Exit(1)
	}
	id, err := ids.ParseEntityId(args[0])
	if err != nil {
		log.Fatalf("invalid entity id: %v", err)
	}

	fs := flag.NewFlagSet("update", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	content := fs.String("content", "", "new content")
	fs.Parse(args[1:])

	r := openReplica(resolveDataDir(*dataDir))
	defer r.Close()

	existing, err := r.entityStore.GetEntity(id)
	if err != nil {
		log.Fatalf("update: %v", err)
	}
	if existing == nil {
		log.Fatalf("update: no such entity %s", id)
	}

	data, err := json.Marshal(map[string]interface{}{"content": *content})
	if err != nil {
		log.Fatalf("encode content: %v", err)
	}
	ev := model.NewEvent(id, r.id.PeerID, r.clock.Tick(), model.Payload{
		Kind:       model.PayloadEntityUpdated,
		EntityType: existing.EntityType,
		JSONData:   data,
	})
	if err := r.recordLocal(ev); err != nil {
		log.Fatalf("update: %v", err)
	}
	fmt.Println("Updated.")
}

func cmdDelete(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: syncd delete <uuid> [--data dir]")
		os.Exit(1)
	}
	id, err := ids.ParseEntityId(args[0])
	if err != nil {
		log.Fatalf("invalid entity id: %v", err)
	}

	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	fs.Parse(args[1:])

	r := openReplica(resolveDataDir(*dataDir))
	defer r.Close()

	existing, err := r.entityStore.GetEntity(id)
	if err != nil {
		log.Fatalf("delete: %v", err)
	}
	if existing == nil {
		log.Fatalf("delete: no such entity %s", id)
	}

	ev := model.NewEvent(id, r.id.PeerID, r.clock.Tick(), model.Payload{
		Kind:       model.PayloadEntityDeleted,
		EntityType: existing.EntityType,
	})
	if err := r.recordLocal(ev); err != nil {
		log.Fatalf("delete: %v", err)
	}
	fmt.Println("Deleted.")
}

func printEntity(e model.Entity) {
	out, _ := json.MarshalIndent(map[string]interface{}{
		"id":          e.ID.String(),
		"entity_type": e.EntityType,
		"data":        json.RawMessage(e.Data),
		"is_trashed":  e.IsTrashed,
	}, "", "  ")
	fmt.Println(string(out))
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	fs.Parse(args)

	dir := resolveDataDir(*dataDir)
	r := openReplica(dir)
	defer r.Close()

	entities, err := r.entityStore.ListAllEntities(false)
	if err != nil {
		log.Fatalf("status: %v", err)
	}

	fmt.Println("syncd status")
	fmt.Println("------------")
	fmt.Printf("  Data dir:  %s\n", dir)
	fmt.Printf("  Peer id:   %s\n", r.id.PeerID)
	fmt.Printf("  Encrypted: %v\n", r.keystore.IsInitialized())
	fmt.Printf("  Unlocked:  %v\n", r.keystore.IsUnlocked())
	fmt.Printf("  Entities:  %d\n", len(entities))
}

func resolveDataDir(flagVal string) string {
	if flagVal != "" {
		return flagVal
	}
	return defaultDataDir()
}

// newPolicy builds the active sync policy; personal selective sharing is
// the default, --enterprise switches to the role-based variant.
func newPolicy(dir string, enterprise bool) (policy.Policy, *policy.PersonalSyncPolicy, *policy.EnterpriseSyncPolicy, *policystore.Store, error) {
	if !enterprise {
		p := policy.NewPersonalSyncPolicy()
		return p, p, nil, nil, nil
	}

	store, err := policystore.New(filepath.Join(dir, "policy.db"))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open policy store: %w", err)
	}
	now := func() uint64 { return uint64(time.Now().UnixMilli()) }
	enterprisePolicy, err := policy.LoadEnterpriseSyncPolicy(store, now)
	if err != nil {
		store.Close()
		return nil, nil, nil, nil, fmt.Errorf("load enterprise policy: %w", err)
	}
	return enterprisePolicy, nil, enterprisePolicy, store, nil
}

func cmdDaemon(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	deviceName := fs.String("name", "syncd", "device name announced to peers")
	port := fs.Int("port", 0, "listen port (0 = random)")
	enableDHT := fs.Bool("dht", false, "enable DHT for global peer discovery")
	enterprise := fs.Bool("enterprise", false, "use the role-based enterprise policy instead of personal sharing")
	fs.Parse(args)

	dir := resolveDataDir(*dataDir)
	log.Printf("starting syncd daemon at %s", dir)

	r := openReplica(dir)
	defer r.Close()

	activePolicy, personalPolicy, enterprisePolicy, polStore, err := newPolicy(dir, *enterprise)
	if err != nil {
		log.Fatalf("policy: %v", err)
	}
	if polStore != nil {
		defer polStore.Close()
	}

	pairingMgr, err := pairing.NewManagerFromFile(dir)
	if err != nil {
		log.Fatalf("pairing manager: %v", err)
	}

	logger := logging.Standard{L: log.Default()}

	eng := engine.New(r.id.PeerID, *deviceName, activePolicy, nil, nil)
	if enterprisePolicy != nil {
		eng.SetAclHandler(func(ev model.Event) error {
			return policy.ApplyAclEvent(enterprisePolicy, ev)
		})
	}

	p2pCfg := p2p.DefaultConfig()
	if *port > 0 {
		p2pCfg.ListenAddrs = []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *port)}
	}
	p2pCfg.EnableDHT = *enableDHT
	p2pCfg.DataDir = dir
	p2pCfg.DeviceName = *deviceName
	p2pCfg.Logger = logger

	transport, err := p2p.New(r.id.PeerID, p2pCfg)
	if err != nil {
		log.Fatalf("create transport: %v", err)
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.DeviceName = *deviceName

	orch := orchestrator.New(r.id.PeerID, eng, r.entityStore, r.eventStore, transport, orchCfg, r.clock, nil, personalPolicy, pairingMgr, logger)
	if err := orch.Preload(); err != nil {
		log.Fatalf("preload: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := transport.Start(ctx); err != nil {
		log.Fatalf("start transport: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- orch.Run(ctx) }()

	go func() {
		for ev := range orch.Events() {
			switch ev.Kind {
			case orchestrator.EvtPeerDiscovered:
				log.Printf("discovered peer %s (%s)", ev.PeerID, ev.DeviceName)
			case orchestrator.EvtSyncCompleted:
				log.Printf("synced with %s: sent=%d received=%d", ev.PeerID, ev.EventsSent, ev.EventsReceived)
			case orchestrator.EvtSyncFailed:
				log.Printf("sync with %s failed: %s", ev.PeerID, ev.Error)
			}
		}
	}()

	log.Printf("daemon started, peer id %s", r.id.PeerID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Printf("shutting down...")
	cancel()
	<-done
	transport.Stop()
}

func cmdInvite(args []string) {
	fs := flag.NewFlagSet("invite", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	expiry := fs.Duration("expiry", pairing.DefaultInviteExpiry, "invite expiry duration")
	deviceName := fs.String("name", "syncd", "device name announced in the invite")
	fs.Parse(args)

	dir := resolveDataDir(*dataDir)
	r := openReplica(dir)
	defer r.Close()

	p2pCfg := p2p.DefaultConfig()
	p2pCfg.EnableMDNS = false
	p2pCfg.DataDir = dir
	p2pCfg.DeviceName = *deviceName

	transport, err := p2p.New(r.id.PeerID, p2pCfg)
	if err != nil {
		log.Fatalf("create transport: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := transport.Start(ctx); err != nil {
		log.Fatalf("start transport: %v", err)
	}
	defer transport.Stop()

	addrs := transport.Addrs()
	if len(addrs) == 0 {
		log.Fatalf("no listen addresses")
	}

	invite, err := pairing.CreateInvite(r.id.PeerID, *deviceName, addrs[0], r.id.SigningKey, *expiry)
	if err != nil {
		log.Fatalf("create invite: %v", err)
	}

	qr, err := invite.ToQRString()
	if err == nil {
		fmt.Println(qr)
	}
	code, err := invite.Encode()
	if err != nil {
		log.Fatalf("encode invite: %v", err)
	}
	fmt.Printf("\nInvite code: %s\n", code)
	fmt.Printf("Expires in: %s\n", time.Until(time.Unix(invite.ExpiresAt, 0)).Round(time.Minute))
}

func cmdPair(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: syncd pair <invite-code> [--data dir]")
		os.Exit(1)
	}
	inviteCode := args[0]

	fs := flag.NewFlagSet("pair", flag.ExitOnError)
	dataDir := fs.String("data", "", "data directory")
	deviceName := fs.String("name", "syncd", "device name announced to the peer")
	fs.Parse(args[1:])

	dir := resolveDataDir(*dataDir)
	r := openReplica(dir)
	defer r.Close()

	invite, err := pairing.ParseInvite(inviteCode)
	if err != nil {
		log.Fatalf("invalid invite: %v", err)
	}
	remotePeer, err := invite.PeerId()
	if err != nil {
		log.Fatalf("invalid invite peer id: %v", err)
	}

	p2pCfg := p2p.DefaultConfig()
	p2pCfg.DataDir = dir
	p2pCfg.DeviceName = *deviceName

	transport, err := p2p.New(r.id.PeerID, p2pCfg)
	if err != nil {
		log.Fatalf("create transport: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := transport.Start(ctx); err != nil {
		log.Fatalf("start transport: %v", err)
	}
	defer transport.Stop()

	if err := transport.ConnectPeer(ctx, remotePeer, []string{invite.Address}); err != nil {
		log.Fatalf("connect to %s: %v", invite.PeerID, err)
	}

	pairingMgr, err := pairing.NewManagerFromFile(dir)
	if err != nil {
		log.Fatalf("pairing manager: %v", err)
	}
	if err := pairingMgr.Trust(remotePeer, invite.DeviceName); err != nil {
		log.Fatalf("trust peer: %v", err)
	}

	fmt.Printf("Paired with %s (%s). Start the daemon to begin syncing.\n", remotePeer, invite.DeviceName)
}
