// services/config/defaultconfigs.go
package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name (--board / ENFD_BOARD)
// Val: raw YAML for that board
// -----------------------------------------------------------------------------

// Two accessory slots, identity EEPROMs at 0x56 and 0x57 on the first bus.
const cfgMTCDT = `
platform: linux
slots:
  - eeprom:
      i2c_bus: /dev/i2c-0
      addr: 0x56
  - eeprom:
      i2c_bus: /dev/i2c-0
      addr: 0x57
`

// Development host: simulated lines and EEPROM images on disk.
const cfgHost = `
platform: host
log_level: debug
slots:
  - eeprom:
      path: /var/lib/enfd/ap1.eeprom
  - eeprom:
      path: /var/lib/enfd/ap2.eeprom
`

var embeddedConfigs = map[string][]byte{
	"mtcdt": []byte(cfgMTCDT),
	"host":  []byte(cfgHost),
}
