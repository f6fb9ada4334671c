package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic the bridge publishes or consumes.
const TopicPrefix = "petlibro"

// Topic layout:
//
//	petlibro/bridge/status                       retained online/offline (LWT)
//	petlibro/entity/{id}/config                  retained entity descriptor
//	petlibro/entity/{id}/{characteristic}        retained characteristic value
//	petlibro/entity/{id}/{characteristic}/set    inbound writes
const (
	entitySegment = "entity"
	setSuffix     = "set"
)

// Topics provides builders for the bridge's MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.EntityState("7c9e...", "water_level")
//	// "petlibro/entity/7c9e.../water_level"
type Topics struct{}

// BridgeStatus returns the retained bridge availability topic.
func (Topics) BridgeStatus() string {
	return TopicPrefix + "/bridge/status"
}

// EntityConfig returns the retained descriptor topic for an entity.
func (Topics) EntityConfig(entityID string) string {
	return fmt.Sprintf("%s/%s/%s/config", TopicPrefix, entitySegment, entityID)
}

// EntityState returns the retained value topic for one characteristic.
func (Topics) EntityState(entityID, characteristic string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefix, entitySegment, entityID, characteristic)
}

// EntitySet returns the command topic for writing one characteristic.
func (Topics) EntitySet(entityID, characteristic string) string {
	return fmt.Sprintf("%s/%s/%s/%s/%s", TopicPrefix, entitySegment, entityID, characteristic, setSuffix)
}

// AllEntitySets returns the wildcard matching every characteristic write.
//
// Pattern: petlibro/entity/+/+/set
func (Topics) AllEntitySets() string {
	return fmt.Sprintf("%s/%s/+/+/%s", TopicPrefix, entitySegment, setSuffix)
}

// ParseEntitySet extracts the entity ID and characteristic from a topic
// matched by AllEntitySets.
func (Topics) ParseEntitySet(topic string) (entityID, characteristic string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 5 || parts[0] != TopicPrefix || parts[1] != entitySegment || parts[4] != setSuffix {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}
