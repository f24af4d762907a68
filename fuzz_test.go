package ness

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

// TestFuzzDecodePacket_RandomBytes feeds random byte strings to the packet
// decoder and verifies it never panics
func TestFuzzDecodePacket_RandomBytes(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		length := rng.Intn(64)
		data := make([]byte, length)
		for j := range data {
			data[j] = byte(rng.Intn(256))
		}
		_, _ = DecodePacket(string(data))
	}
}

// TestFuzzDecodePacket_RandomHex feeds syntactically plausible hex frames to
// the packet decoder and verifies it never panics
func TestFuzzDecodePacket_RandomHex(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	const hex = "0123456789abcdefABCDEF"
	starts := []string{"82", "83", "86", "87", ""}
	for i := 0; i < rounds; i++ {
		frame := starts[rng.Intn(len(starts))]
		length := rng.Intn(40)
		for j := 0; j < length; j++ {
			frame += string(hex[rng.Intn(len(hex))])
		}
		_, _ = DecodePacket(frame)
	}
}

// TestFuzzDecodeEvent_RandomPackets feeds structurally valid packets with
// random payloads to the event decoder and verifies it never panics
func TestFuzzDecodeEvent_RandomPackets(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	const hex = "0123456789abcdef"
	for i := 0; i < rounds; i++ {
		data := ""
		for j := 0; j < rng.Intn(10); j++ {
			data += string(hex[rng.Intn(len(hex))])
		}
		cmd := CmdUserInterface
		if rng.Intn(2) == 0 {
			cmd = CmdSystemStatus
		}
		pkt := Packet{
			Address:             rng.Intn(17) - 1,
			Seq:                 rng.Intn(2),
			Command:             cmd,
			Data:                data,
			IsUserInterfaceResp: rng.Intn(2) == 0,
		}
		_, _ = DecodeEvent(pkt)
	}
}

// TestFuzzRoundTrip_Keystrings encodes random keypad requests and verifies
// they decode back to the same packet
func TestFuzzRoundTrip_Keystrings(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	const keys = "0123456789AHEXFVPDM*#"
	for i := 0; i < rounds; i++ {
		data := ""
		for j := 0; j < rng.Intn(10)+1; j++ {
			data += string(keys[rng.Intn(len(keys))])
		}
		pkt := Packet{
			Address: rng.Intn(16),
			Seq:     rng.Intn(2),
			Command: CmdUserInterface,
			Data:    data,
		}
		got, err := DecodePacket(pkt.Encode())
		if err != nil {
			t.Fatalf("Round %d: decode failed for %q: %v", i, pkt.Encode(), err)
		}
		if got != pkt {
			t.Fatalf("Round %d: round trip mismatch: sent %+v, got %+v", i, pkt, got)
		}
	}
}

// TestFuzzRoundTrip_Events encodes random timestamped system events and
// verifies they decode back to the same packet
func TestFuzzRoundTrip_Events(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	for i := 0; i < rounds; i++ {
		ts := time.Date(
			2000+rng.Intn(100),
			time.Month(rng.Intn(12)+1),
			rng.Intn(28)+1,
			rng.Intn(24),
			rng.Intn(60),
			rng.Intn(60),
			0, time.Local,
		)
		pkt := Packet{
			Address:   rng.Intn(16),
			Seq:       rng.Intn(2),
			Command:   CmdSystemStatus,
			Data:      fmt.Sprintf("%02x%02x%02x", rng.Intn(256), rng.Intn(256), rng.Intn(256)),
			Timestamp: ts,
		}
		got, err := DecodePacket(pkt.Encode())
		if err != nil {
			t.Fatalf("Round %d: decode failed for %q: %v", i, pkt.Encode(), err)
		}
		if got != pkt {
			t.Fatalf("Round %d: round trip mismatch: sent %+v, got %+v", i, pkt, got)
		}
	}
}

// TestFuzzAlarm_RandomEvents drives the state model with random event
// sequences and verifies it never panics and stays internally consistent
func TestFuzzAlarm_RandomEvents(t *testing.T) {
	rounds := getFuzzRounds()
	rng := newFuzzRng(t)
	t.Logf("Running %d fuzz rounds", rounds)

	randomEvent := func() Event {
		switch rng.Intn(4) {
		case 0:
			return SystemStatusEvent{
				Type: EventType(rng.Intn(0x40)),
				ID:   rng.Intn(64),
				Area: rng.Intn(256),
			}
		case 1:
			ids := []RequestID{ReqZoneInputUnsealed, ReqZone17InputUnsealed, ReqZoneInAlarm}
			zones := make([]int, 0, 4)
			for j := 0; j < rng.Intn(5); j++ {
				zones = append(zones, rng.Intn(40))
			}
			return ZoneUpdate{ID: ids[rng.Intn(len(ids))], Zones: zones}
		case 2:
			return ArmingUpdate{Status: ArmingFlags(rng.Intn(0x10000))}
		default:
			models := []PanelModel{ModelD8X, ModelD16X, ModelD32X, PanelModel(rng.Intn(256))}
			return PanelVersionUpdate{
				Model: models[rng.Intn(len(models))],
				Major: rng.Intn(16),
				Minor: rng.Intn(16),
			}
		}
	}

	for i := 0; i < rounds/10+1; i++ {
		alarm := NewAlarm()
		alarm.OnStateChange(func(ArmingState) {})
		alarm.OnZoneChange(func(int, ZoneState) {})
		for j := 0; j < 50; j++ {
			alarm.HandleEvent(randomEvent())

			state, _ := alarm.ArmingState()
			if state < StateUnknown || state > StateTriggered {
				t.Fatalf("Round %d: arming state out of range: %d", i, state)
			}
			if got := len(alarm.Zones()); got != alarm.ZoneCount() {
				t.Fatalf("Round %d: zone snapshot length %d, tracked count %d", i, got, alarm.ZoneCount())
			}
		}
		alarm.MarkUnknown()
	}
}
