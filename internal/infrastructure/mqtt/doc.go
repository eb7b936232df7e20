// Package mqtt publishes access events to an MQTT broker.
//
// The access server is a publisher only. It announces its presence on a
// retained status topic (with a Last Will for crashes) and publishes
// denied requests, batch summaries and retention reports under
// graylogic/access/{site}/.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Site.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().Denied(), attempt)
//
// Publishing is optional. When the broker is disabled in config the
// server runs without a client and event publishing is a no-op.
package mqtt
