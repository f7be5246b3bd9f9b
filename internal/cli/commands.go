// Package cli implements the ottdwire command line: packet decoding and
// encoding, server queries, the discovery responder, the decode API service
// and an interactive shell over all of them.
package cli

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ottdwire/ottdwire/internal/api"
	"github.com/ottdwire/ottdwire/internal/config"
	"github.com/ottdwire/ottdwire/internal/db"
	"github.com/ottdwire/ottdwire/internal/events"
	intnet "github.com/ottdwire/ottdwire/internal/network"
	"github.com/ottdwire/ottdwire/internal/protocol"
	"github.com/ottdwire/ottdwire/internal/scheduler"
	"github.com/ottdwire/ottdwire/internal/telemetry"
	"github.com/ottdwire/ottdwire/internal/util"
)

// CLI is the root command.
type CLI struct {
	ConfigFile string           `name:"config" short:"c" type:"path" default:"ottdwire.toml" env:"OTTDWIRE_CONFIG" help:"Configuration file."`
	LogLevel   string           `name:"log-level" placeholder:"LEVEL" help:"Override the configured log level."`
	Version    kong.VersionFlag `help:"Print the version and exit."`

	Decode  DecodeCmd  `cmd:"" help:"Decode captured UDP or Game Coordinator packets."`
	Encode  EncodeCmd  `cmd:"" help:"Build a client request packet."`
	Query   QueryCmd   `cmd:"" help:"Query a game server or the master server."`
	Scan    ScanCmd    `cmd:"" help:"Query many game servers at once."`
	Listing ListingCmd `cmd:"" help:"Fetch the public server listing from the Game Coordinator."`
	Respond RespondCmd `cmd:"" help:"Answer discovery queries as a game server would."`
	Servers ServersCmd `cmd:"" help:"Show the servers recorded by serve."`
	Serve   ServeCmd   `cmd:"" help:"Run the decode API, the refresh jobs and the MQTT publisher."`
	Init    InitCmd    `cmd:"" help:"Create or update the configuration file interactively."`
	Shell   ShellCmd   `cmd:"" help:"Run commands interactively."`
}

// Context is bound to every command's Run method.
type Context struct {
	Ctx    context.Context
	Config *config.Config
	In     io.Reader
	Out    io.Writer

	parser *protocol.Parser
}

// NewContext creates a command context.
func NewContext(ctx context.Context, cfg *config.Config, in io.Reader, out io.Writer) *Context {
	return &Context{
		Ctx:    ctx,
		Config: cfg,
		In:     in,
		Out:    out,
		parser: protocol.NewParser(),
	}
}

// Setup loads the configuration and configures logging.
func (c *CLI) Setup(ctx context.Context, in io.Reader, out io.Writer) (*Context, error) {
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.Load(c.ConfigFile)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.GetLogging()
	if c.LogLevel != "" {
		logCfg.Level = c.LogLevel
	}
	if err := util.InitLogger(logCfg); err != nil {
		return nil, err
	}

	result := config.Validate(cfg)
	for _, w := range result.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	for _, e := range result.Errors {
		log.Error().Str("field", e.Field).Msg(e.Message)
	}

	return NewContext(ctx, cfg, in, out), nil
}

func (c *Context) printer() *Printer { return NewPrinter(c.Out) }

func (c *Context) querier(bus *events.EventBus) *intnet.Querier {
	return intnet.NewQuerier(c.Config.GetQuery(), c.parser, bus)
}

// DecodeCmd decodes packets from --hex, a file or stdin.
type DecodeCmd struct {
	Family string `short:"f" enum:"udp,coordinator" default:"udp" help:"Packet family: udp or coordinator."`
	Hex    string `short:"x" placeholder:"HEX" help:"Packet bytes as hex."`
	File   string `arg:"" optional:"" type:"existingfile" help:"File with raw packet bytes. Stdin is read when neither a file nor --hex is given."`
	JSON   bool   `help:"Print the decoded packets as JSON."`
}

func (d *DecodeCmd) Run(app *Context) error {
	var (
		data []byte
		err  error
	)
	switch {
	case d.Hex != "":
		data, err = decodeHex(d.Hex)
	case d.File != "":
		data, err = os.ReadFile(d.File)
	default:
		data, err = io.ReadAll(app.In)
	}
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("no packet data")
	}

	decoded, decodeErr := app.parser.ParseAll(events.ParseFamily(d.Family), data, "cli")

	p := app.printer()
	if d.JSON {
		packets := make([]events.PacketPayload, 0, len(decoded))
		for _, ev := range decoded {
			packets = append(packets, ev.Payload.(events.PacketPayload))
		}
		if err := p.JSON(packets); err != nil {
			return err
		}
	} else if len(decoded) > 0 {
		p.Packets(decoded)
	}

	if decodeErr != nil {
		consumed := 0
		for _, ev := range decoded {
			consumed += ev.Payload.(events.PacketPayload).Size
		}
		var de *protocol.DecodeError
		if errors.As(decodeErr, &de) {
			return fmt.Errorf("packet %d at byte %d: %w", len(decoded)+1, consumed+de.Offset, de)
		}
		return decodeErr
	}
	return nil
}

// decodeHex accepts hex with any whitespace between the digits.
func decodeHex(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// EncodeCmd prints the wire bytes of a request packet.
type EncodeCmd struct {
	Packet   string `arg:"" enum:"detail_info,find_server,get_list,listing" help:"Request packet: find_server, detail_info, get_list or listing."`
	Type     string `default:"autodetect" enum:"ipv4,ipv6,autodetect" help:"Address family asked for by get_list."`
	Revision string `help:"Client revision sent with listing."`
	Cursor   uint32 `help:"NewGRF lookup cursor sent with listing."`
	Raw      bool   `help:"Write raw bytes instead of hex."`
}

func (e *EncodeCmd) Run(app *Context) error {
	listType, err := protocol.ParseServerListRequestType(e.Type)
	if err != nil {
		return err
	}
	req, err := intnet.BuildRequest(e.Packet, intnet.RequestOptions{
		ListType: listType,
		Revision: e.Revision,
		Cursor:   e.Cursor,
	})
	if err != nil {
		return err
	}
	_, data, err := app.parser.Encode(req)
	if err != nil {
		return err
	}
	if e.Raw {
		_, err = app.Out.Write(data)
		return err
	}
	_, err = fmt.Fprintln(app.Out, hex.EncodeToString(data))
	return err
}

// QueryCmd groups the single server queries.
type QueryCmd struct {
	Server  queryServerCmd  `cmd:"" help:"Ask a server for its game information."`
	Details queryDetailsCmd `cmd:"" help:"Ask a server for its companies."`
	NewGRFs queryNewGRFsCmd `cmd:"" name:"newgrfs" help:"Ask a server for the names of its NewGRFs."`
	Master  queryMasterCmd  `cmd:"" help:"Ask the master server for its server list."`
}

type queryServerCmd struct {
	Addr string `arg:"" help:"Server address. The port defaults to 3979."`
	JSON bool   `help:"Print JSON."`
}

func (q *queryServerCmd) Run(app *Context) error {
	addr := withDefaultPort(q.Addr)
	info, rtt, err := app.querier(nil).FindServer(app.Ctx, addr)
	if err != nil {
		return err
	}
	if q.JSON {
		return app.printer().JSON(map[string]any{"address": addr, "rtt_ms": rtt.Milliseconds(), "server": info})
	}
	app.printer().Server(addr, info, rtt)
	return nil
}

type queryDetailsCmd struct {
	Addr string `arg:"" help:"Server address. The port defaults to 3979."`
	JSON bool   `help:"Print JSON."`
}

func (q *queryDetailsCmd) Run(app *Context) error {
	detail, err := app.querier(nil).DetailInfo(app.Ctx, withDefaultPort(q.Addr))
	if err != nil {
		return err
	}
	if q.JSON {
		return app.printer().JSON(detail)
	}
	app.printer().Companies(detail)
	return nil
}

type queryNewGRFsCmd struct {
	Addr string `arg:"" help:"Server address. The port defaults to 3979."`
	JSON bool   `help:"Print JSON."`
}

func (q *queryNewGRFsCmd) Run(app *Context) error {
	addr := withDefaultPort(q.Addr)
	querier := app.querier(nil)

	info, _, err := querier.FindServer(app.Ctx, addr)
	if err != nil {
		return err
	}

	var grfs protocol.NewGRFDetails
	switch active := info.ActiveNewGRF.(type) {
	case protocol.NewGRFDetails:
		grfs = active
	case protocol.NewGRFIdentifiers:
		if len(active) > 0 {
			grfs, err = querier.NewGRFs(app.Ctx, addr, active)
			if err != nil {
				return err
			}
		}
	case protocol.NewGRFLookupIDs:
		return errors.New("server advertises NewGRFs by lookup id; use the listing command")
	}

	if q.JSON {
		return app.printer().JSON(grfs)
	}
	app.printer().NewGRFs(grfs)
	return nil
}

type queryMasterCmd struct {
	Type string `default:"ipv4" enum:"ipv4,ipv6,autodetect" help:"Address family to ask for."`
	JSON bool   `help:"Print JSON."`
}

func (q *queryMasterCmd) Run(app *Context) error {
	typ, err := protocol.ParseServerListRequestType(q.Type)
	if err != nil {
		return err
	}
	list, err := app.querier(nil).MasterList(app.Ctx, typ)
	if err != nil {
		return err
	}
	if q.JSON {
		return app.printer().JSON(list.Addrs())
	}
	app.printer().ServerList(list)
	return nil
}

// ScanCmd queries many servers concurrently.
type ScanCmd struct {
	Addrs       []string `arg:"" optional:"" help:"Server addresses. The port defaults to 3979."`
	Master      bool     `help:"Also scan every server on the master server list."`
	Type        string   `default:"ipv4" enum:"ipv4,ipv6,autodetect" help:"Address family asked for with --master."`
	Concurrency int      `help:"Queries in flight at once. Overrides query.concurrency."`
	JSON        bool     `help:"Print JSON."`
}

func (s *ScanCmd) Run(app *Context) error {
	addrs, err := resolveAll(s.Addrs)
	if err != nil {
		return err
	}

	qcfg := app.Config.GetQuery()
	if s.Concurrency > 0 {
		qcfg.Concurrency = s.Concurrency
	}
	querier := intnet.NewQuerier(qcfg, app.parser, nil)

	if s.Master {
		typ, err := protocol.ParseServerListRequestType(s.Type)
		if err != nil {
			return err
		}
		list, err := querier.MasterList(app.Ctx, typ)
		if err != nil {
			return err
		}
		addrs = append(addrs, list.Addrs()...)
	}
	if len(addrs) == 0 {
		return errors.New("nothing to scan: give addresses or --master")
	}

	results := querier.Scan(app.Ctx, addrs)
	if s.JSON {
		out := make([]map[string]any, 0, len(results))
		for _, r := range results {
			entry := map[string]any{"address": r.Addr.String()}
			if r.Err != nil {
				entry["error"] = r.Err.Error()
			} else {
				entry["server"] = r.Info
				entry["rtt_ms"] = r.RoundTrip.Milliseconds()
			}
			out = append(out, entry)
		}
		return app.printer().JSON(out)
	}
	app.printer().Scan(results)
	return nil
}

// ListingCmd fetches the coordinator's public server list.
type ListingCmd struct {
	Revision string `default:"14.1" help:"Client revision to announce."`
	JSON     bool   `help:"Print JSON."`
}

func (l *ListingCmd) Run(app *Context) error {
	client := intnet.NewCoordinatorClient(app.Config.GetQuery(), app.parser, nil)
	listing, err := client.Listing(app.Ctx, l.Revision)
	if err != nil {
		return err
	}
	if l.JSON {
		return app.printer().JSON(listing)
	}
	app.printer().Listing(listing)
	return nil
}

// RespondCmd runs a discovery responder advertising a fixed game.
type RespondCmd struct {
	Listen       string   `default:":3979" help:"UDP address to answer on."`
	Name         string   `default:"ottdwire" help:"Advertised server name."`
	Revision     string   `default:"14.1" help:"Advertised server revision."`
	Map          string   `default:"Random Map" help:"Advertised map name."`
	MapWidth     uint16   `default:"256" help:"Advertised map width."`
	MapHeight    uint16   `default:"256" help:"Advertised map height."`
	ClientsMax   uint8    `default:"25" help:"Advertised client limit."`
	CompaniesMax uint8    `default:"15" help:"Advertised company limit."`
	Dedicated    bool     `default:"true" negatable:"" help:"Advertise a dedicated server."`
	NewGRF       []string `name:"newgrf" placeholder:"ID:MD5:NAME" help:"Advertised NewGRF, ID in hex. May be repeated."`
	SelfTest     bool     `help:"Query the responder once it is listening."`
}

func (r *RespondCmd) Run(app *Context) error {
	grfs, err := parseNewGRFs(r.NewGRF)
	if err != nil {
		return err
	}

	bus := events.NewEventBus()
	defer bus.Stop()

	responder := intnet.NewResponder(r.Listen, app.parser, bus)
	now := time.Now().UTC()
	responder.SetServer(protocol.ServerResponse{
		GameDate:       now,
		StartDate:      now,
		MaxCompanies:   r.CompaniesMax,
		MaxSpectators:  r.ClientsMax,
		ServerName:     r.Name,
		ServerRevision: r.Revision,
		ClientsMax:     r.ClientsMax,
		MapName:        r.Map,
		MapWidth:       r.MapWidth,
		MapHeight:      r.MapHeight,
		Dedicated:      r.Dedicated,
	}, protocol.ServerDetailInfo{Version: protocol.CompanyInfoVersion}, grfs)

	g, ctx := errgroup.WithContext(app.Ctx)
	g.Go(func() error { return responder.Start(ctx) })
	startPublisher(ctx, g, app.Config.GetMQTT(), bus)

	if r.SelfTest {
		g.Go(func() error {
			select {
			case <-responder.Ready():
			case <-ctx.Done():
				return nil
			}
			if err := responder.SelfTest(ctx); err != nil {
				return fmt.Errorf("self test failed: %w", err)
			}
			fmt.Fprintf(app.Out, "responder on %s answered its self test\n", responder.Addr())
			return nil
		})
	}
	return g.Wait()
}

// parseNewGRFs parses ID:MD5:NAME flags. NAME may contain colons.
func parseNewGRFs(specs []string) (protocol.NewGRFDetails, error) {
	grfs := make(protocol.NewGRFDetails, len(specs))
	for _, s := range specs {
		parts := strings.SplitN(s, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid NewGRF %q: want ID:MD5:NAME", s)
		}
		id, err := strconv.ParseUint(parts[0], 16, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid NewGRF id %q: %w", parts[0], err)
		}
		md5, err := protocol.ParseGRFHash(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid NewGRF checksum %q: %w", parts[1], err)
		}
		grfs[uint32(id)] = protocol.NewGRFInfo{MD5: md5, Name: parts[2]}
	}
	return grfs, nil
}

// ServeCmd runs the decode API and, when enabled, the server registry, the
// refresh jobs and the MQTT publisher.
type ServeCmd struct{}

func (s *ServeCmd) Run(app *Context) error {
	if err := config.Validate(app.Config).Err(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	sysInfo := util.GetSystemInfo()
	localIP, _ := util.GetLocalIP()
	log.Info().
		Str("version", api.Version).
		Str("hostname", sysInfo.Hostname).
		Str("local_ip", localIP).
		Str("os", sysInfo.OS).
		Int("cores", sysInfo.CPUCores).
		Msg("starting ottdwire")

	bus := events.NewEventBus()
	querier := app.querier(bus)
	server := api.NewServer(app.Config, bus, app.parser, querier)
	deps := scheduler.Deps{Querier: querier}

	var registry *db.Registry
	if storage := app.Config.GetStorage(); storage.Enabled {
		var err error
		if registry, err = db.NewRegistry(storage.Path); err != nil {
			bus.Stop()
			return err
		}
		registry.Attach(bus)
		server.SetRegistry(registry)
		deps.Store = registry
	}
	defer func() {
		bus.Stop()
		if registry != nil {
			registry.Close()
		}
	}()

	if q := app.Config.GetQuery(); q.Coordinator != "" {
		deps.Coordinator = intnet.NewCoordinatorClient(q, app.parser, bus)
	}
	jobs := scheduler.NewScheduler(app.Config, deps)

	g, ctx := errgroup.WithContext(app.Ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error {
		jobs.Start(ctx)
		return nil
	})
	startPublisher(ctx, g, app.Config.GetMQTT(), bus)

	err := g.Wait()
	bus.Emit(context.Background(), events.Event{Type: events.EventShutdown, Source: "cli"})
	log.Info().Msg("ottdwire stopped")
	return err
}

// ServersCmd prints the registry kept by serve.
type ServersCmd struct {
	Prune bool `help:"Delete servers older than the retention period first."`
	JSON  bool `help:"Print the servers as JSON."`
}

func (c *ServersCmd) Run(app *Context) error {
	path := app.Config.GetStorage().Path
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no server registry at %s: %w", path, err)
	}
	registry, err := db.NewRegistry(path)
	if err != nil {
		return err
	}
	defer registry.Close()

	if c.Prune {
		n, err := scheduler.NewScheduler(app.Config, scheduler.Deps{Store: registry}).Prune(app.Ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "pruned %d servers\n", n)
	}

	servers, err := registry.List(app.Ctx)
	if err != nil {
		return err
	}
	if c.JSON {
		return app.printer().JSON(servers)
	}
	app.printer().Servers(servers)
	return nil
}

// startPublisher adds the MQTT publisher to g when it is enabled. A broker
// that cannot be reached is logged and does not stop the other tasks.
func startPublisher(ctx context.Context, g *errgroup.Group, cfg config.MQTTConfig, bus *events.EventBus) {
	if !cfg.Enabled {
		return
	}
	publisher, err := telemetry.NewPublisher(cfg, bus)
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		return
	}
	g.Go(func() error {
		if err := publisher.Start(ctx); err != nil {
			log.Warn().Err(err).Msg("MQTT telemetry failed")
		}
		return nil
	})
}

// InitCmd runs the setup wizard and saves the result.
type InitCmd struct{}

func (i *InitCmd) Run(app *Context) error {
	if err := config.RunSetupWizard(app.Config, app.In, app.Out); err != nil {
		return err
	}
	if err := config.Validate(app.Config).Err(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := app.Config.Save(); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "configuration saved to %s\n", app.Config.Path())
	return nil
}

// ShellCmd reads commands line by line and runs them.
type ShellCmd struct{}

func (s *ShellCmd) Run(app *Context, kctx *kong.Context) error {
	fmt.Fprintln(app.Out, "ottdwire shell. Type 'help' for commands, 'quit' to leave.")

	scanner := bufio.NewScanner(app.In)
	for {
		if app.Ctx.Err() != nil {
			return nil
		}
		fmt.Fprint(app.Out, "ottdwire> ")
		if !scanner.Scan() {
			return scanner.Err()
		}

		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}
		switch strings.ToLower(args[0]) {
		case "quit", "exit", "q":
			return nil
		case "help", "h", "?":
			kctx.PrintUsage(true)
			continue
		case "shell":
			fmt.Fprintln(app.Out, "Error: already in the shell")
			continue
		}

		sub, err := kctx.Kong.Parse(args)
		if err != nil {
			fmt.Fprintf(app.Out, "Error: %v\n", err)
			continue
		}
		if err := sub.Run(app); err != nil {
			fmt.Fprintf(app.Out, "Error: %v\n", err)
		}
	}
}

// withDefaultPort appends the default game port when addr has none.
func withDefaultPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(strings.Trim(addr, "[]"), strconv.Itoa(config.DefaultServerPort))
}

// resolveAll turns host[:port] arguments into endpoints.
func resolveAll(args []string) ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(args))
	for _, a := range args {
		addr := withDefaultPort(a)
		if ap, err := netip.ParseAddrPort(addr); err == nil {
			out = append(out, ap)
			continue
		}
		ua, err := net.ResolveUDPAddr("udp", addr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", a, err)
		}
		out = append(out, ua.AddrPort())
	}
	return out, nil
}

// New builds the command line parser for c.
func New(c *CLI, options ...kong.Option) (*kong.Kong, error) {
	options = append([]kong.Option{
		kong.Name("ottdwire"),
		kong.Description("Decode, encode and query OpenTTD discovery and Game Coordinator packets."),
		kong.UsageOnError(),
		kong.Vars{"version": api.Version},
	}, options...)
	return kong.New(c, options...)
}
