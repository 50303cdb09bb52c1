package monitor

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/ultisoc/bootmon/internal/xmodem"
)

// Command is one monitor command. Run gets the arguments after the name.
type Command struct {
	Name    string
	Aliases []string
	Usage   string
	Help    string
	MinArgs int
	Run     func(ctx context.Context, m *Monitor, args []string) error
}

const dumpPrompt = "Press any key to continue or 'q' to quit...\n"

func builtins() []*Command {
	return []*Command{
		{Name: "help", Help: "list commands", Run: cmdHelp},
		{Name: "info", Help: "print system information", Run: cmdInfo},
		{Name: "rdb", Usage: "<addr>", Help: "read byte", MinArgs: 1, Run: cmdRead(1)},
		{Name: "rdh", Usage: "<addr>", Help: "read halfword", MinArgs: 1, Run: cmdRead(2)},
		{Name: "rdw", Usage: "<addr>", Help: "read word", MinArgs: 1, Run: cmdRead(4)},
		{Name: "wrb", Usage: "<addr> <value>", Help: "write byte", MinArgs: 2, Run: cmdWrite(1)},
		{Name: "wrh", Usage: "<addr> <value>", Help: "write halfword", MinArgs: 2, Run: cmdWrite(2)},
		{Name: "wrw", Usage: "<addr> <value>", Help: "write word", MinArgs: 2, Run: cmdWrite(4)},
		{Name: "memset", Usage: "<addr> <value> <len>", Help: "fill block of memory", MinArgs: 3, Run: cmdMemset},
		{Name: "memmove", Usage: "<dst> <src> <len>", Help: "move block of memory", MinArgs: 3, Run: cmdMemmove},
		{Name: "memdump", Aliases: []string{"md"}, Usage: "<addr> <len> [per_page]", Help: "dump memory contents", MinArgs: 2, Run: cmdMemdump},
		{Name: "xmodem", Usage: "<addr>", Help: "load data over XModem protocol", MinArgs: 1, Run: cmdXModem},
		{Name: "load", Usage: "[scratch]", Help: "load ELF binary over XModem protocol", Run: cmdLoad},
		{Name: "run", Help: "run loaded ELF binary", Run: cmdRun},
		{Name: "jmp", Usage: "<addr>", Help: "jump to address", MinArgs: 1, Run: cmdJmp},
	}
}

// numbers parses every argument, reporting the first bad one.
func numbers(args []string) ([]uint32, error) {
	vals := make([]uint32, len(args))
	for i, a := range args {
		v, err := ParseNumber(a)
		if err != nil {
			return nil, &ArgError{Arg: a, Err: err}
		}
		vals[i] = v
	}
	return vals, nil
}

func cmdHelp(ctx context.Context, m *Monitor, args []string) error {
	for _, cmd := range m.commands {
		names := strings.Join(append([]string{cmd.Name}, cmd.Aliases...), "|")
		if cmd.Usage != "" {
			names += " " + cmd.Usage
		}
		m.con.Printf("  %-34s %s\n", names, cmd.Help)
	}
	return nil
}

func cmdInfo(ctx context.Context, m *Monitor, args []string) error {
	m.printInfo()
	return nil
}

func cmdRead(width int) func(context.Context, *Monitor, []string) error {
	return func(ctx context.Context, m *Monitor, args []string) error {
		vals, err := numbers(args[:1])
		if err != nil {
			return err
		}
		addr := vals[0]

		var v uint32
		switch width {
		case 1:
			var b uint8
			b, err = m.mem.Read8(addr)
			v = uint32(b)
		case 2:
			var h uint16
			h, err = m.mem.Read16(addr)
			v = uint32(h)
		default:
			v, err = m.mem.Read32(addr)
		}
		if err != nil {
			return err
		}

		m.con.Printf("%08X: 0x%0*X\n", addr, width*2, v)
		return nil
	}
}

func cmdWrite(width int) func(context.Context, *Monitor, []string) error {
	return func(ctx context.Context, m *Monitor, args []string) error {
		vals, err := numbers(args[:2])
		if err != nil {
			return err
		}
		addr, v := vals[0], vals[1]

		switch width {
		case 1:
			v &= 0xFF
			err = m.mem.Write8(addr, uint8(v))
		case 2:
			v &= 0xFFFF
			err = m.mem.Write16(addr, uint16(v))
		default:
			err = m.mem.Write32(addr, v)
		}
		if err != nil {
			return err
		}

		m.con.Printf("0x%0*X --> %08X\n", width*2, v, addr)
		return nil
	}
}

func cmdMemset(ctx context.Context, m *Monitor, args []string) error {
	vals, err := numbers(args[:3])
	if err != nil {
		return err
	}
	addr, value, n := vals[0], uint8(vals[1]), vals[2]

	if n == 0 {
		m.con.Printf("length is zero\n")
		return nil
	}

	m.con.Printf("memset: [0x%08X-0x%08X] to 0x%02X\n", addr, addr+n-1, value)
	return m.mem.Fill(addr, value, n)
}

func cmdMemmove(ctx context.Context, m *Monitor, args []string) error {
	vals, err := numbers(args[:3])
	if err != nil {
		return err
	}
	dst, src, n := vals[0], vals[1], vals[2]

	if n == 0 {
		m.con.Printf("length is zero\n")
		return nil
	}

	m.con.Printf("memmove: [0x%08X-0x%08X] to [0x%08X-0x%08X]\n", src, src+n-1, dst, dst+n-1)
	return m.mem.Move(dst, src, n)
}

func cmdMemdump(ctx context.Context, m *Monitor, args []string) error {
	if len(args) > 3 {
		args = args[:3]
	}
	vals, err := numbers(args)
	if err != nil {
		return err
	}
	addr, n := vals[0], vals[1]

	perPage := uint32(0)
	if len(vals) > 2 {
		perPage = vals[2]
	}

	var line [16]byte
	lines := uint32(0)
	for off := uint32(0); off < n; off += 16 {
		count := n - off
		if count > 16 {
			count = 16
		}
		if _, err := m.mem.ReadAt(line[:count], int64(addr)); err != nil {
			return err
		}

		var sb strings.Builder
		sb.WriteString(hex32(addr))
		for i := uint32(0); i < 16; i++ {
			sb.WriteByte(' ')
			if i < count {
				sb.WriteString(hex8(line[i]))
			} else {
				sb.WriteString("  ")
			}
			if i != 15 && i%4 == 3 {
				sb.WriteString(" |")
			}
		}
		sb.WriteString("  ")
		for i := uint32(0); i < 16; i++ {
			switch {
			case i >= count:
				sb.WriteByte(' ')
			case line[i] >= ' ' && line[i] <= '~':
				sb.WriteByte(line[i])
			default:
				sb.WriteByte('.')
			}
		}
		m.con.Printf("%s\n", sb.String())

		addr += 16
		lines++

		if perPage != 0 && lines == perPage {
			lines = 0
			m.con.Printf(dumpPrompt)
			key, err := m.con.Getc(ctx)
			if err != nil {
				return err
			}
			if key == 'q' || key == 'Q' {
				m.con.Printf("\n")
				break
			}
		}
	}
	return nil
}

func cmdXModem(ctx context.Context, m *Monitor, args []string) error {
	vals, err := numbers(args[:1])
	if err != nil {
		return err
	}
	addr := vals[0]

	m.con.Printf("XModem: [0x%08X] -> ", addr)
	stats, err := m.loader.Raw(addr)
	m.con.Printf("\n")
	if err != nil {
		return err
	}

	m.logInfo("raw transfer done", "addr", hex32(addr), "bytes", stats.Bytes)
	m.con.Printf("%s\n", xmodem.Completed)
	return nil
}

func cmdLoad(ctx context.Context, m *Monitor, args []string) error {
	scratch := m.config.Scratch
	if len(args) > 0 {
		vals, err := numbers(args[:1])
		if err != nil {
			return err
		}
		scratch = vals[0]
	}

	m.con.Printf("ELF: [0x%08X] -> ", scratch)
	img, err := m.loader.Load(scratch)
	m.con.Printf("\n")
	if err != nil {
		return err
	}

	m.logInfo("image loaded", "entry", hex32(img.Entry), "segments", len(img.Segments))
	for _, seg := range img.Segments {
		m.con.Printf("  [0x%08X-0x%08X] %d bytes\n", seg.Addr, seg.Addr+seg.Size, seg.Size)
	}
	m.con.Printf("Loaded. Entry point: 0x%08X\n", img.Entry)
	return nil
}

func cmdRun(ctx context.Context, m *Monitor, args []string) error {
	entry, ok := m.Boot().Entry()
	if !ok {
		return ErrNotLoaded
	}
	return m.jump(entry)
}

func cmdJmp(ctx context.Context, m *Monitor, args []string) error {
	vals, err := numbers(args[:1])
	if err != nil {
		return err
	}
	return m.jump(vals[0])
}

func (m *Monitor) jump(addr uint32) error {
	if m.config.Jumper == nil {
		return ErrNoJumper
	}
	m.logInfo("jump", "addr", hex32(addr))
	return errors.Wrapf(m.config.Jumper.Jump(addr), "jump to 0x%08X", addr)
}
