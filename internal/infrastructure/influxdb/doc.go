// Package influxdb mirrors command status history into InfluxDB v2.
//
// Every stored status report becomes a point in the "command_status"
// measurement, tagged by command, stream and status code, so execution
// progress can be charted and alerted on outside the tasking database.
// Command stream changes (added, narrowed, updated, removed) are recorded in
// "command_stream_change".
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	stores.SetPublisher(tasking.Publishers{mqttPub, influxdb.NewPublisher(client)})
//
// Writes are queued and sent in batches sized by batch_size and
// flush_interval. Rejected batches are logged through SetLogger and counted
// by Failures.
package influxdb
