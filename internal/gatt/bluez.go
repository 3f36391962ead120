package gatt

import (
	"context"
	"fmt"
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// Peripheral binds the provisioning service onto the system BLE adapter
// via BlueZ. It is a thin shim: protocol behavior lives in Service, the
// radio stack owns advertising and the GATT table.
type Peripheral struct {
	adapter    *bluetooth.Adapter
	adv        *bluetooth.Advertisement
	svc        *Service
	deviceName string
	log        *slog.Logger

	statusChar   bluetooth.Characteristic
	networksChar bluetooth.Characteristic
}

// NewPeripheral creates a peripheral advertising under deviceName.
func NewPeripheral(svc *Service, deviceName string, log *slog.Logger) *Peripheral {
	return &Peripheral{
		adapter:    bluetooth.DefaultAdapter,
		svc:        svc,
		deviceName: deviceName,
		log:        log,
	}
}

// Enable powers on the adapter and registers the connect/disconnect
// handler. onConnect receives true when a central connects and false when
// it disconnects.
func (p *Peripheral) Enable(onConnect func(connected bool)) error {
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("gatt: enable adapter: %w", err)
	}
	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		p.log.Info("central connection changed", "connected", connected)
		if onConnect != nil {
			onConnect(connected)
		}
	})
	return nil
}

// RegisterService publishes the provisioning GATT table. Write events are
// dispatched to the Service handlers; the status and networks-list
// characteristics are wired as notify sinks. The BlueZ stack serves reads
// (including offset reads) from the characteristic value, so every status
// change is mirrored into the characteristic.
func (p *Peripheral) RegisterService() error {
	serviceUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return fmt.Errorf("gatt: parse service uuid: %w", err)
	}

	initialStatus, err := p.svc.ReadStatus(0)
	if err != nil {
		return fmt.Errorf("gatt: initial status: %w", err)
	}

	err = p.adapter.AddService(&bluetooth.Service{
		UUID: serviceUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				UUID:  p.mustUUID(SSIDCharUUID),
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(_ bluetooth.Connection, offset int, value []byte) {
					if err := p.svc.WriteSSID(offset, value); err != nil {
						p.log.Warn("ssid write rejected", "err", err)
					}
				},
			},
			{
				UUID:  p.mustUUID(SecretCharUUID),
				Flags: bluetooth.CharacteristicWritePermission | bluetooth.CharacteristicWriteWithoutResponsePermission,
				WriteEvent: func(_ bluetooth.Connection, offset int, value []byte) {
					if err := p.svc.WriteSecret(offset, value); err != nil {
						p.log.Warn("secret write rejected", "err", err)
					}
				},
			},
			{
				UUID:  p.mustUUID(ConnectCharUUID),
				Flags: bluetooth.CharacteristicWritePermission,
				WriteEvent: func(_ bluetooth.Connection, offset int, value []byte) {
					// The attempt blocks on external commands; keep the
					// D-Bus event loop free.
					go func() {
						if err := p.svc.WriteConnectTrigger(context.Background(), offset, value); err != nil {
							p.log.Warn("connect trigger failed", "err", err)
						}
					}()
				},
			},
			{
				Handle: &p.statusChar,
				UUID:   p.mustUUID(StatusCharUUID),
				Value:  initialStatus,
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
			{
				UUID:  p.mustUUID(ScanCharUUID),
				Flags: bluetooth.CharacteristicWritePermission,
				WriteEvent: func(_ bluetooth.Connection, offset int, value []byte) {
					if err := p.svc.WriteScanTrigger(context.Background(), offset, value); err != nil {
						p.log.Warn("scan trigger rejected", "err", err)
					}
				},
			},
			{
				Handle: &p.networksChar,
				UUID:   p.mustUUID(NetworksCharUUID),
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("gatt: add service: %w", err)
	}

	p.svc.SubscribeStatus(func(data []byte) error {
		_, err := p.statusChar.Write(data)
		return err
	})
	p.svc.SubscribeNetworks(func(data []byte) error {
		_, err := p.networksChar.Write(data)
		return err
	})

	return nil
}

// StartAdvertising begins advertising the provisioning service.
func (p *Peripheral) StartAdvertising() error {
	serviceUUID, err := bluetooth.ParseUUID(ServiceUUID)
	if err != nil {
		return fmt.Errorf("gatt: parse service uuid: %w", err)
	}

	p.adv = p.adapter.DefaultAdvertisement()
	if err := p.adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    p.deviceName,
		ServiceUUIDs: []bluetooth.UUID{serviceUUID},
	}); err != nil {
		return fmt.Errorf("gatt: configure advertisement: %w", err)
	}
	if err := p.adv.Start(); err != nil {
		return fmt.Errorf("gatt: start advertising: %w", err)
	}
	p.log.Info("advertising", "name", p.deviceName)
	return nil
}

// StopAdvertising stops the advertisement. Safe to call when not
// advertising.
func (p *Peripheral) StopAdvertising() {
	if p.adv == nil {
		return
	}
	if err := p.adv.Stop(); err != nil {
		p.log.Warn("stop advertising", "err", err)
	}
}

func (p *Peripheral) mustUUID(s string) bluetooth.UUID {
	uuid, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(fmt.Sprintf("gatt: bad uuid constant %q: %v", s, err))
	}
	return uuid
}
