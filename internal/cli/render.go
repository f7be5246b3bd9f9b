package cli

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/ottdwire/ottdwire/internal/db"
	"github.com/ottdwire/ottdwire/internal/events"
	intnet "github.com/ottdwire/ottdwire/internal/network"
	"github.com/ottdwire/ottdwire/internal/protocol"
)

// Printer renders command results as tables.
type Printer struct {
	w io.Writer
}

// NewPrinter creates a printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) table(header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(p.w)
	tw.SetHeader(header)
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	return tw
}

// Server prints the game information of one server.
func (p *Printer) Server(addr string, info protocol.ServerResponse, rtt time.Duration) {
	fmt.Fprintf(p.w, "\n  Address:      %s\n", addr)
	fmt.Fprintf(p.w, "  Name:         %s\n", info.ServerName)
	fmt.Fprintf(p.w, "  Revision:     %s\n", info.ServerRevision)
	fmt.Fprintf(p.w, "  Dedicated:    %v\n", info.Dedicated)
	fmt.Fprintf(p.w, "  Password:     %v\n", info.UsePassword)
	fmt.Fprintf(p.w, "  Clients:      %d/%d\n", info.ClientsOn, info.ClientsMax)
	fmt.Fprintf(p.w, "  Companies:    %d/%d\n", info.CurrentCompanies, info.MaxCompanies)
	fmt.Fprintf(p.w, "  Spectators:   %d/%d\n", info.SpectatorsOn, info.MaxSpectators)
	fmt.Fprintf(p.w, "  Map:          %s (%dx%d)\n", info.MapName, info.MapWidth, info.MapHeight)
	fmt.Fprintf(p.w, "  Game date:    %s\n", info.GameDate.Format(time.DateOnly))
	fmt.Fprintf(p.w, "  Start date:   %s\n", info.StartDate.Format(time.DateOnly))
	if info.GameScriptName != "" {
		fmt.Fprintf(p.w, "  Game script:  %s (v%d)\n", info.GameScriptName, info.GameScriptVersion)
	}
	if rtt > 0 {
		fmt.Fprintf(p.w, "  Round trip:   %s\n", rtt.Round(time.Millisecond))
	}
	if info.ActiveNewGRF != nil && info.ActiveNewGRF.Len() > 0 {
		fmt.Fprintf(p.w, "  NewGRFs:      %d (%s)\n", info.ActiveNewGRF.Len(), info.ActiveNewGRF.SerializationType())
	}
	fmt.Fprintln(p.w)
}

// Companies prints the companies of a SERVER_DETAIL_INFO reply.
func (p *Printer) Companies(detail protocol.ServerDetailInfo) {
	tw := p.table("#", "Name", "Founded", "Value", "Money", "Income", "Perf", "Vehicles", "Stations", "Flags")
	for _, c := range detail.Companies {
		flags := ""
		if c.IsAI {
			flags += "ai "
		}
		if c.HasPassword {
			flags += "password"
		}
		tw.Append([]string{
			strconv.Itoa(int(c.Index) + 1),
			c.Name,
			strconv.FormatUint(uint64(c.InauguratedYear), 10),
			strconv.FormatUint(c.CompanyValue, 10),
			strconv.FormatUint(c.Money, 10),
			strconv.FormatUint(c.Income, 10),
			strconv.Itoa(int(c.Performance)),
			countsByType(c.Vehicles),
			countsByType(c.Stations),
			flags,
		})
	}
	tw.Render()
}

// countsByType formats the non-zero counters as "train:3 bus:1".
func countsByType(counts [protocol.VehicleTypeCount]uint16) string {
	out := ""
	for t := protocol.VehicleType(0); t < protocol.VehicleTypeCount; t++ {
		if counts[t] == 0 {
			continue
		}
		if out != "" {
			out += " "
		}
		out += fmt.Sprintf("%s:%d", t, counts[t])
	}
	if out == "" {
		return "-"
	}
	return out
}

// NewGRFs prints NewGRF details ordered by GRF id.
func (p *Printer) NewGRFs(grfs protocol.NewGRFDetails) {
	tw := p.table("GRF ID", "MD5", "Name")
	for _, id := range slices.Sorted(maps.Keys(grfs)) {
		grf := grfs[id]
		tw.Append([]string{fmt.Sprintf("%08X", id), grf.MD5.String(), grf.Name})
	}
	tw.Render()
}

// ServerList prints the endpoints of a master server list.
func (p *Printer) ServerList(list protocol.ServerList) {
	tw := p.table("#", "Address")
	for i, addr := range list.Addrs() {
		tw.Append([]string{strconv.Itoa(i + 1), addr.String()})
	}
	tw.SetFooter([]string{list.ListType().String(), fmt.Sprintf("%d servers", list.Len())})
	tw.Render()
}

// Scan prints scan results, answering servers first.
func (p *Printer) Scan(results []intnet.ScanResult) {
	sorted := slices.Clone(results)
	slices.SortStableFunc(sorted, func(a, b intnet.ScanResult) int {
		return cmp.Compare(errRank(a.Err), errRank(b.Err))
	})

	tw := p.table("Address", "Name", "Revision", "Clients", "Map", "RTT", "Error")
	for _, r := range sorted {
		if r.Err != nil {
			tw.Append([]string{r.Addr.String(), "-", "-", "-", "-", "-", r.Err.Error()})
			continue
		}
		tw.Append([]string{
			r.Addr.String(),
			r.Info.ServerName,
			r.Info.ServerRevision,
			fmt.Sprintf("%d/%d", r.Info.ClientsOn, r.Info.ClientsMax),
			r.Info.MapName,
			r.RoundTrip.Round(time.Millisecond).String(),
			"",
		})
	}
	tw.Render()
}

func errRank(err error) int {
	if err != nil {
		return 1
	}
	return 0
}

// Listing prints the servers of a coordinator listing.
func (p *Printer) Listing(l *intnet.Listing) {
	tw := p.table("Address", "Name", "Revision", "Clients", "Companies", "NewGRFs")
	for _, s := range l.Servers {
		grfs, missing := l.Resolve(s)
		grfCol := strconv.Itoa(len(grfs))
		if len(missing) > 0 {
			grfCol += fmt.Sprintf(" (%d unresolved)", len(missing))
		}
		tw.Append([]string{
			s.Address,
			s.Info.ServerName,
			s.Info.ServerRevision,
			fmt.Sprintf("%d/%d", s.Info.ClientsOn, s.Info.ClientsMax),
			fmt.Sprintf("%d/%d", s.Info.CurrentCompanies, s.Info.MaxCompanies),
			grfCol,
		})
	}
	tw.SetFooter([]string{"", fmt.Sprintf("%d servers", len(l.Servers)), "", "", "", fmt.Sprintf("%d known", len(l.NewGRFs))})
	tw.Render()
}

// Servers prints registry rows.
func (p *Printer) Servers(servers []db.Server) {
	tw := p.table("Address", "Name", "Revision", "Clients", "Map", "RTT", "Last seen", "Failures")
	for _, s := range servers {
		rtt := "-"
		if s.RoundTripMs > 0 {
			rtt = fmt.Sprintf("%dms", s.RoundTripMs)
		}
		tw.Append([]string{
			s.Address,
			s.Name,
			s.Revision,
			fmt.Sprintf("%d/%d", s.ClientsOn, s.ClientsMax),
			s.MapName,
			rtt,
			s.LastSeen.Format(time.DateTime),
			strconv.Itoa(s.Failures),
		})
	}
	tw.SetFooter([]string{"", fmt.Sprintf("%d servers", len(servers)), "", "", "", "", "", ""})
	tw.Render()
}

// Packets prints a summary row per decoded packet.
func (p *Printer) Packets(decoded []*events.Event) {
	tw := p.table("#", "Family", "Type", "Size")
	offset := 0
	for i, ev := range decoded {
		pp := ev.Payload.(events.PacketPayload)
		tw.Append([]string{
			strconv.Itoa(i + 1),
			pp.Family.String(),
			pp.PacketType,
			fmt.Sprintf("%d @%d", pp.Size, offset),
		})
		offset += pp.Size
	}
	tw.Render()
}

// JSON writes v as indented JSON.
func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
