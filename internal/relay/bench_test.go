package relay

import (
	"testing"

	"rigrelay/internal/protocol"
)

func benchmarkBroadcast(b *testing.B, recipients int) {
	logger := newTestLogger()
	r, err := New(recipients+1, logger, Deps{
		NewOutbound: func() Outbound { return &fakeOutbound{discard: true} },
		NewInbound:  func(*Registry) Inbound { return &fakeInbound{} },
	})
	if err != nil {
		b.Fatal(err)
	}

	sender, _, createErr := r.CreateClient(&fakeConn{}, protocol.Credential{Username: "sender"})
	if createErr != nil {
		b.Fatal(createErr)
	}
	r.EnableFlow(sender)
	for i := 0; i < recipients; i++ {
		slot, _, joinErr := r.CreateClient(&fakeConn{}, protocol.Credential{Username: "client"})
		if joinErr != nil {
			b.Fatal(joinErr)
		}
		r.EnableFlow(slot)
	}

	payload := []byte("per-tick state payload")

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.QueueMessage(sender, protocol.MsgChat, payload)
	}
}

func BenchmarkBroadcast_8(b *testing.B)   { benchmarkBroadcast(b, 8) }
func BenchmarkBroadcast_64(b *testing.B)  { benchmarkBroadcast(b, 64) }
func BenchmarkBroadcast_255(b *testing.B) { benchmarkBroadcast(b, 255) }
