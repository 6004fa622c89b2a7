package transport

import (
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// enumeratePorts is the production ListFunc, backed by the OS USB
// descriptor tables.
func enumeratePorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	infos := make([]PortInfo, 0, len(details))
	for _, d := range details {
		infos = append(infos, PortInfo{
			Name:  d.Name,
			IsUSB: d.IsUSB,
			VID:   d.VID,
			PID:   d.PID,
		})
	}
	return infos, nil
}

// openHardwarePort is the production OpenFunc.
func openHardwarePort(name string, baud int) (Port, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}
