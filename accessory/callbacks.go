package accessory

// Callbacks is the fixed set of outward notifications the UI and ranging
// layers subscribe to. Any field may be nil. Callbacks are invoked from the
// manager's run loop, so they must not call back into manager commands.
type Callbacks struct {
	// RegistryChanged fires after an insertion or removal, with the
	// affected position and id.
	RegistryChanged func(position int, id string, inserted bool)

	// Connected fires once per link, when the inbound notification
	// channel becomes active. This is the "usable for ranging" signal,
	// not the raw transport connect.
	Connected func(id string)

	// Disconnected fires when an established link drops.
	Disconnected func(id string)

	// PairingPayload fires when a read on the pairing channel completes.
	PairingPayload func(payload []byte, id string)

	// DataPayload fires for every inbound data notification.
	DataPayload func(payload []byte, deviceName, id string)
}

func (c *Callbacks) registryChanged(position int, id string, inserted bool) {
	if c.RegistryChanged != nil {
		c.RegistryChanged(position, id, inserted)
	}
}

func (c *Callbacks) connected(id string) {
	if c.Connected != nil {
		c.Connected(id)
	}
}

func (c *Callbacks) disconnected(id string) {
	if c.Disconnected != nil {
		c.Disconnected(id)
	}
}

func (c *Callbacks) pairingPayload(payload []byte, id string) {
	if c.PairingPayload != nil {
		c.PairingPayload(payload, id)
	}
}

func (c *Callbacks) dataPayload(payload []byte, deviceName, id string) {
	if c.DataPayload != nil {
		c.DataPayload(payload, deviceName, id)
	}
}
