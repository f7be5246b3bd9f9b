package protocol

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricPacketsDecoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottdwire",
		Subsystem: "protocol",
		Name:      "decoded_packets_total",
		Help:      "Total number of packets decoded",
	}, []string{"family", "type"})
	metricPacketsEncoded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottdwire",
		Subsystem: "protocol",
		Name:      "encoded_packets_total",
		Help:      "Total number of packets encoded",
	}, []string{"family", "type"})
	metricDecodeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottdwire",
		Subsystem: "protocol",
		Name:      "decode_failures_total",
		Help:      "Total number of packets that failed to decode",
	}, []string{"family", "reason"})
	metricDecodedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ottdwire",
		Subsystem: "protocol",
		Name:      "decoded_bytes_total",
		Help:      "Total amount of packet data decoded",
	}, []string{"family"})
)

var failureReasons = []struct {
	err    error
	reason string
}{
	{ErrTruncated, "truncated"},
	{ErrUnterminatedString, "unterminated_string"},
	{ErrUnknownVariant, "unknown_variant"},
	{ErrInvalidLength, "invalid_length"},
	{ErrTrailingData, "trailing_data"},
	{ErrCountOverflow, "count_overflow"},
	{ErrPacketTooLarge, "packet_too_large"},
	{ErrAddressFamily, "address_family"},
	{ErrNilPayload, "nil_payload"},
}

// FailureReason maps a codec error to a short label for metrics and events.
func FailureReason(err error) string {
	for _, fr := range failureReasons {
		if errors.Is(err, fr.err) {
			return fr.reason
		}
	}
	return "other"
}
