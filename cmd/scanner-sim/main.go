// scanner-sim emulates a classroom scanner: it announces itself for a
// room, publishes jittered RSSI observations for a simulated beacon,
// and answers connect commands so a full attendance attempt can be
// exercised against a local server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type statusPayload struct {
	ScannerID string `json:"scanner_id"`
	Room      string `json:"room"`
	Online    bool   `json:"online"`
}

type observationPayload struct {
	ScannerID string `json:"scanner_id"`
	Address   string `json:"address"`
	RSSI      int    `json:"rssi"`
	Name      string `json:"name,omitempty"`
	Timestamp string `json:"timestamp"`
}

type commandPayload struct {
	RequestID string `json:"request_id"`
	Command   string `json:"command"`
	Address   string `json:"address,omitempty"`
}

type eventPayload struct {
	RequestID string `json:"request_id"`
	Event     string `json:"event"`
	OK        bool   `json:"ok"`
}

func main() {
	brokerAddr := flag.String("broker", "tcp://localhost:1883", "MQTT broker address, e.g. tcp://localhost:1883")
	scannerID := flag.String("scanner-id", "sim-scanner-1", "Scanner identifier")
	room := flag.String("room", "room-204", "Room this scanner covers")
	beaconAddr := flag.String("beacon-address", "AA:BB:CC:DD:EE:FF", "Hardware address of the simulated beacon")
	beaconName := flag.String("beacon-name", "classroom-beacon", "Advertised name of the simulated beacon")
	interval := flag.Duration("interval", 2*time.Second, "Interval between published observations")
	baseRSSI := flag.Int("base-rssi", -60, "Baseline RSSI value to simulate")
	rssiJitter := flag.Int("rssi-jitter", 6, "Maximum random jitter applied to RSSI readings")
	connectFailRate := flag.Float64("connect-fail-rate", 0, "Fraction of connect commands to fail (0..1)")

	flag.Parse()

	rand.Seed(time.Now().UnixNano())

	clientID := fmt.Sprintf("%s-simulator-%d", *scannerID, time.Now().UnixNano())
	opts := mqtt.NewClientOptions().AddBroker(*brokerAddr).SetClientID(clientID)
	opts = opts.SetOrderMatters(false)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatalf("failed to connect to broker: %v", token.Error())
	}
	log.Printf("connected to MQTT broker %s as %s", *brokerAddr, clientID)

	publishJSON := func(topic string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("failed to encode payload: %v", err)
			return
		}
		token := client.Publish(topic, 0, false, data)
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("publish error on %s: %v", topic, err)
		}
	}

	// Answer connect commands so the server's directed connect
	// round-trip completes.
	commandTopic := fmt.Sprintf("scanners/%s/commands", *scannerID)
	eventTopic := fmt.Sprintf("scanners/%s/events", *scannerID)
	token := client.Subscribe(commandTopic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		var cmd commandPayload
		if err := json.Unmarshal(msg.Payload(), &cmd); err != nil {
			log.Printf("bad command payload: %v", err)
			return
		}
		if cmd.Command != "connect" {
			return
		}
		ok := rand.Float64() >= *connectFailRate
		log.Printf("connect command for %s -> ok=%v", cmd.Address, ok)
		publishJSON(eventTopic, eventPayload{RequestID: cmd.RequestID, Event: "connect_result", OK: ok})
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.Fatalf("failed to subscribe to %s: %v", commandTopic, err)
	}

	statusTopic := fmt.Sprintf("scanners/%s/status", *scannerID)
	publishJSON(statusTopic, statusPayload{ScannerID: *scannerID, Room: *room, Online: true})
	log.Printf("announced scanner %s for %s", *scannerID, *room)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	observationTopic := fmt.Sprintf("scanners/%s/observations", *scannerID)

	publish := func() {
		payload := observationPayload{
			ScannerID: *scannerID,
			Address:   *beaconAddr,
			RSSI:      randomRSSI(*baseRSSI, *rssiJitter),
			Name:      *beaconName,
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		}
		publishJSON(observationTopic, payload)
		log.Printf("published %s rssi=%d", observationTopic, payload.RSSI)
	}

	publish()

	for {
		select {
		case <-ctx.Done():
			log.Print("received shutdown signal, disconnecting")
			publishJSON(statusTopic, statusPayload{ScannerID: *scannerID, Room: *room, Online: false})
			client.Disconnect(250)
			return
		case <-ticker.C:
			publish()
		}
	}
}

func randomRSSI(base, jitter int) int {
	if jitter <= 0 {
		return base
	}
	delta := rand.Intn(jitter*2+1) - jitter
	return base + delta
}
