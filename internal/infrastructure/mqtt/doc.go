// Package mqtt provides MQTT client connectivity for graysim.
//
// The simulator uses the broker in both directions:
//   - egress: per-tick entity state (retained) and a tick summary
//   - ingress: clock-synchronised commands from external controllers
//
// This package manages:
//   - Connection with auto-reconnect and subscription restore
//   - Publishing with QoS and a payload size ceiling
//   - Subscriptions with panic-safe handlers
//   - Last Will and Testament on the status topic
//
// # Topics
//
//	{prefix}/status              online/offline (retained, LWT)
//	{prefix}/tick                tick summary
//	{prefix}/state/{entity}      entity state (retained)
//	{prefix}/command             one command (JSON)
//	{prefix}/command/batch       ordered command list (JSON array)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topics := client.Topics()
//	err = client.Subscribe(topics.Command(), 1, func(topic string, payload []byte) error {
//	    return submit(payload)
//	})
package mqtt
