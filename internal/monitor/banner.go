package monitor

import "fmt"

const logo = `
 _   _ _ _   _ ____         ____
| | | | | |_(_) ___|  ___  / ___|
| | | | | __| \___ \ / _ \| |
| |_| | | |_| |___) | (_) | |___
 \___/|_|\__|_|____/ \___/ \____|  boot monitor
`

// Banner prints the logo and system information.
func (m *Monitor) Banner() {
	m.con.Printf("%s\n", logo)
	if m.config.Version != "" {
		m.con.Printf("Version  : %s\n", m.config.Version)
	}
	m.printInfo()
	m.con.Printf("\nType 'help' for a list of commands.\n")
}

func (m *Monitor) printInfo() {
	info := m.config.Info
	m.con.Printf("CPU Id   : %s\n", hex32(info.CPUID))
	m.con.Printf("SoC ver. : %d\n", info.Version)
	m.con.Printf("Sys.freq.: %d Hz\n", info.SysFreq)
	for _, r := range m.mem.Regions() {
		mode := "rw"
		if r.ReadOnly {
			mode = "ro"
		}
		m.con.Printf("%-9s: [0x%08X-0x%08X] %s\n", r.Name, r.Base, r.End()-1, mode)
	}
}

func hex32(v uint32) string {
	return fmt.Sprintf("%08X", v)
}

func hex8(v uint8) string {
	return fmt.Sprintf("%02X", v)
}
