package main

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"

	"ledstrip/logger"
	"ledstrip/strip"
)

// Server exposes the strip over a line-oriented TCP protocol. One
// command per line, replies are "OK", a value, or "ERR: ...".
//
//	SET <idx> <RRGGBB[WW]>  stage one pixel
//	FILL <RRGGBB[WW]>       stage every pixel
//	GET <idx>               reply with the staged color
//	SHOW                    transmit the staged frame
//	CLEAR                   black out the strip
//	PIXELS                  reply with the pixel count
//	QUIT                    close the connection
//
// Staged changes only reach the LEDs on SHOW.
type Server struct {
	strip *strip.Strip
	power *PowerRail
	l     net.Listener
	log   *logger.Logger

	mu  sync.Mutex // serializes strip and power access across connections
	lit bool
}

func NewServer(port int, st *strip.Strip, power *PowerRail, log *logger.Logger) (*Server, error) {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	log.Infof("Listening on port %d", port)
	return &Server{strip: st, power: power, l: l, log: log}, nil
}

// parseColor parses RRGGBB, or RRGGBBWW for strips with a white
// channel. Sscanf reports short input as io.EOF, so the channel count
// is checked on every path.
func (s *Server) parseColor(tok string) (strip.Pixel, error) {
	p := strip.Pixel{W: -1}
	want := s.strip.BytesPerPixel()
	var n int
	var err error
	if want == 4 {
		n, err = fmt.Sscanf(tok, "%02x%02x%02x%02x", &p.R, &p.G, &p.B, &p.W)
	} else {
		n, err = fmt.Sscanf(tok, "%02x%02x%02x", &p.R, &p.G, &p.B)
	}
	if err != nil && err != io.EOF {
		return strip.Pixel{}, err
	}
	if n != want {
		return strip.Pixel{}, fmt.Errorf("parsed %d of %d channels from %q", n, want, tok)
	}
	return p, nil
}

func (s *Server) setPixel(i int, p strip.Pixel) error {
	if s.strip.BytesPerPixel() == 4 {
		return s.strip.SetPixelRGBW(i, p.R, p.G, p.B, p.W)
	}
	return s.strip.SetPixel(i, p.R, p.G, p.B)
}

// execute runs one command. Commands with a value reply write it
// themselves; a nil error with nothing written means "OK".
func (s *Server) execute(cmd, parms string, w *bufio.Writer) (replied bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case "SET":
		t := strings.SplitN(parms, " ", 2)
		if len(t) != 2 {
			return false, fmt.Errorf("SET wants <idx> <color>, got %q", parms)
		}
		i, err := strconv.Atoi(t[0])
		if err != nil {
			return false, fmt.Errorf("bad pixel index %q: %v", t[0], err)
		}
		p, err := s.parseColor(t[1])
		if err != nil {
			return false, err
		}
		return false, s.setPixel(i, p)
	case "FILL":
		p, err := s.parseColor(parms)
		if err != nil {
			return false, err
		}
		for i := 0; i < s.strip.NumPixels(); i++ {
			if err := s.setPixel(i, p); err != nil {
				return false, err
			}
		}
		return false, nil
	case "GET":
		i, err := strconv.Atoi(parms)
		if err != nil {
			return false, fmt.Errorf("bad pixel index %q: %v", parms, err)
		}
		p, err := s.strip.GetPixel(i)
		if err != nil {
			return false, err
		}
		w.WriteString(p.String() + "\n")
		return true, w.Flush()
	case "SHOW":
		if !s.lit {
			if err := s.power.On(); err != nil {
				return false, err
			}
			s.lit = true
		}
		return false, s.strip.Refresh()
	case "CLEAR":
		if err := s.strip.Clear(); err != nil {
			return false, err
		}
		if s.lit {
			if err := s.power.Off(); err != nil {
				return false, err
			}
			s.lit = false
		}
		return false, nil
	case "PIXELS":
		w.WriteString(strconv.Itoa(s.strip.NumPixels()) + "\n")
		return true, w.Flush()
	}
	return false, fmt.Errorf("unknown command: %s", cmd)
}

func (s *Server) handleConnection(c net.Conn) {
	s.log.Infof("Handling connection from %v", c.RemoteAddr())
	defer c.Close()
	r := bufio.NewReader(c)
	w := bufio.NewWriter(c)
	for {
		l, err := r.ReadString('\n')
		if err == io.EOF {
			s.log.Debugf("EOF for connection %v", c.RemoteAddr())
			return
		}
		if err != nil {
			s.log.Errorf("Error reading from connection %v: %v", c.RemoteAddr(), err)
			return
		}
		l = strings.TrimSpace(l)
		s.log.Debugf("Got line %q", l)
		t := strings.SplitN(l, " ", 2)
		cmd := strings.ToUpper(t[0])
		parms := ""
		if len(t) > 1 {
			parms = t[1]
		}
		if cmd == "QUIT" {
			return
		}
		replied, err := s.execute(cmd, parms, w)
		if err != nil {
			s.log.Errorf("Command %s failed: %v", cmd, err)
			w.WriteString(fmt.Sprintf("ERR: %v\n", err))
			if err := w.Flush(); err != nil {
				s.log.Errorf("error writing error reply: %v", err)
				return
			}
			continue
		}
		if !replied {
			w.WriteString("OK\n")
			if err := w.Flush(); err != nil {
				s.log.Errorf("error writing reply: %v", err)
				return
			}
		}
	}
}

func (s *Server) handleConnections() {
	for {
		conn, err := s.l.Accept()
		if err != nil {
			s.log.Errorf("Error accepting connection: %v", err)
			continue
		}
		go s.handleConnection(conn)
	}
}
