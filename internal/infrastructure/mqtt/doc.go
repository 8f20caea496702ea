// Package mqtt connects the tasking store to the site broker.
//
// The store uses MQTT in two directions. Committed changes are published as
// JSON events under <prefix>/events, and drivers report command progress on
// <prefix>/status/<source>, which taskingd ingests into the status store.
// The service announces itself on <prefix>/system/status with a retained
// online message, a graceful offline message on Close, and an offline will
// the broker sends if the connection drops.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllStatusReports(), 1, ingestor.Handle)
//
// Reconnects are automatic; subscriptions made through Subscribe are
// restored each time the connection comes back.
package mqtt
