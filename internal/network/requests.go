package network

import (
	"fmt"
	"slices"

	"github.com/ottdwire/ottdwire/internal/protocol"
)

// RequestOptions parameterises BuildRequest. Fields a request does not use
// are ignored.
type RequestOptions struct {
	ListType protocol.ServerListRequestType
	Revision string
	Cursor   uint32
}

var requestBuilders = map[string]func(RequestOptions) protocol.Payload{
	"find_server": func(RequestOptions) protocol.Payload { return protocol.ClientFindServer{} },
	"detail_info": func(RequestOptions) protocol.Payload { return protocol.ClientDetailInfo{} },
	"get_list": func(o RequestOptions) protocol.Payload {
		return protocol.ClientGetList{MasterServerVersion: MasterServerVersion, RequestType: o.ListType}
	},
	"listing": func(o RequestOptions) protocol.Payload {
		return protocol.ClientListing{Revision: o.Revision, NewGRFLookupCursor: o.Cursor}
	},
}

// RequestNames returns the names BuildRequest accepts, sorted.
func RequestNames() []string {
	names := make([]string, 0, len(requestBuilders))
	for name := range requestBuilders {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// BuildRequest returns the client request packet called name.
func BuildRequest(name string, opts RequestOptions) (protocol.Payload, error) {
	build, ok := requestBuilders[name]
	if !ok {
		return nil, fmt.Errorf("unknown request packet %q", name)
	}
	return build(opts), nil
}
