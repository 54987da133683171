// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tofcal/internal/regmap"
	"github.com/relabs-tech/tofcal/internal/transport"
)

// RegisterDebugSession gives a websocket client raw register access. Transfers
// go straight to the transport and do not wait for a running calibration.
type RegisterDebugSession struct {
	Conn *websocket.Conn
	tr   transport.Transport
	log  *logrus.Entry
}

// RegisterCmd is a register debug request.
type RegisterCmd struct {
	Action  string `json:"action"` // get_map, read, write
	Address string `json:"addr,omitempty"`
	Length  int    `json:"len,omitempty"`
	Value   string `json:"value,omitempty"` // hex bytes, big endian
}

// RegisterResponse answers a RegisterCmd.
type RegisterResponse struct {
	Type        string         `json:"type"` // register_data, register_map, error
	Address     string         `json:"addr,omitempty"`
	Value       string         `json:"value,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Message     string         `json:"message,omitempty"`
	RegisterMap []RegisterInfo `json:"register_map,omitempty"`
}

// RegisterInfo describes one register known to the calibration core.
type RegisterInfo struct {
	Address     string `json:"address"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Length      int    `json:"length"`
	Access      string `json:"access"` // "R", "W", "RW"
}

type registerDef struct {
	addr   uint16
	name   string
	desc   string
	length int
	access string
}

// registerTable lists the registers the calibration core drives. Only RW
// entries accept writes from a debug session.
var registerTable = []registerDef{
	{regmap.SPADEnablesRef0, "GLOBAL_CONFIG__SPAD_ENABLES_REF_0", "reference SPAD enables, 48 bits", regmap.SPADEnablesRefLength, "RW"},
	{regmap.RefEnStartSelect, "GLOBAL_CONFIG__REF_EN_START_SELECT", "first reference SPAD", 1, "RW"},
	{regmap.RefSPADNumRequested, "REF_SPAD_MAN__NUM_REQUESTED_REF_SPADS", "enabled reference SPAD count", 1, "RW"},
	{regmap.RefSPADRefLocation, "REF_SPAD_MAN__REF_LOCATION", "reference SPAD region", 1, "RW"},
	{regmap.PartToPartOffsetMM, "ALGO__PART_TO_PART_RANGE_OFFSET_MM", "part to part offset, 11.2 mm", 2, "RW"},
	{regmap.MMConfigInnerOffset, "MM_CONFIG__INNER_OFFSET_MM", "stage 1 offset, mm", 2, "RW"},
	{regmap.MMConfigOuterOffset, "MM_CONFIG__OUTER_OFFSET_MM", "stage 2 offset, mm", 2, "RW"},
	{regmap.DSSTargetTotalRate, "DSS_CONFIG__TARGET_TOTAL_RATE_MCPS", "DSS target, 9.7 Mcps", 2, "RW"},
	{regmap.GPIOHVMuxCtrl, "GPIO_HV_MUX__CTRL", "interrupt polarity in bit 4", 1, "RW"},
	{regmap.GPIOTIOHVStatus, "GPIO__TIO_HV_STATUS", "interrupt line level in bit 0", 1, "R"},
	{regmap.SSCArraySelect, "TEST_MODE__SPAD_ARRAY_SELECT", "0 return, 1 reference", 1, "RW"},
	{regmap.SSCTimeoutUS, "TEST_MODE__SSC_TIMEOUT_US", "SPAD self check timeout, us", 4, "RW"},
	{regmap.PhasecalTimeoutUS, "PHASECAL_CONFIG__TIMEOUT_US", "phase calibration timeout, us", 2, "RW"},
	{regmap.RangeTimeoutUS, "RANGE_CONFIG__TIMEOUT_US", "range timeout, us", 4, "RW"},
	{regmap.PowerForce, "POWER_MANAGEMENT__GO1_POWER_FORCE", "keep the core powered between tests", 1, "RW"},
	{regmap.TestModeCtrl, "TEST_MODE__CTRL", "device test trigger", 1, "W"},
	{regmap.FirmwareEnable, "FIRMWARE__ENABLE", "firmware run control", 1, "RW"},
	{regmap.InterruptClear, "SYSTEM__INTERRUPT_CLEAR", "interrupt clear", 1, "W"},
	{regmap.ModeStart, "SYSTEM__MODE_START", "ranging trigger", 1, "W"},
	{regmap.ResultRangeStatus, "RESULT__RANGE_STATUS", "range result block", regmap.RangeResultLength, "R"},
	{regmap.PatchBaseRSLV, "PATCH__BASE_RSLV", "patch RAM, rate maps", regmap.PatchRAMLength, "R"},
}

// isRegisterWritable reports whether [addr, addr+n) lies inside one writable register.
func isRegisterWritable(addr uint16, n int) bool {
	for _, r := range registerTable {
		if !strings.Contains(r.access, "W") {
			continue
		}
		if addr >= r.addr && int(addr)+n <= int(r.addr)+r.length {
			return true
		}
	}
	return false
}

// maxDebugRead bounds a single read request.
const maxDebugRead = regmap.PatchRAMLength

func (s *Server) handleRegisterDebugWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("register_debug: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	session := &RegisterDebugSession{
		Conn: conn,
		tr:   s.runner.Transport(),
		log:  s.log.WithField("remote", r.RemoteAddr),
	}

	if err := session.sendRegisterMap(); err != nil {
		session.log.Warnf("register_debug: error sending register map: %v", err)
		return
	}

	for {
		var cmd RegisterCmd
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				session.log.Warnf("register_debug: websocket error: %v", err)
			}
			break
		}

		var werr error
		switch cmd.Action {
		case "get_map":
			werr = session.sendRegisterMap()
		case "read":
			werr = session.handleRead(cmd)
		case "write":
			werr = session.handleWrite(cmd)
		default:
			werr = session.sendError(fmt.Sprintf("unknown action: %s", cmd.Action))
		}
		if werr != nil {
			session.log.Warnf("register_debug: write error: %v", werr)
			return
		}
	}
}

func (s *RegisterDebugSession) handleRead(cmd RegisterCmd) error {
	addr, err := parseRegisterAddr(cmd.Address)
	if err != nil {
		return s.sendError(err.Error())
	}
	n := cmd.Length
	if n == 0 {
		n = 1
	}
	if n < 0 || n > maxDebugRead {
		return s.sendError(fmt.Sprintf("invalid length %d", cmd.Length))
	}

	data, err := s.tr.ReadRegister(addr, n)
	if err != nil {
		return s.sendError(fmt.Sprintf("read error: %v", err))
	}

	return s.Conn.WriteJSON(RegisterResponse{
		Type:      "register_data",
		Address:   fmt.Sprintf("0x%04X", addr),
		Value:     strings.ToUpper(hex.EncodeToString(data)),
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func (s *RegisterDebugSession) handleWrite(cmd RegisterCmd) error {
	addr, err := parseRegisterAddr(cmd.Address)
	if err != nil {
		return s.sendError(err.Error())
	}
	data, err := hex.DecodeString(strings.TrimPrefix(cmd.Value, "0x"))
	if err != nil || len(data) == 0 {
		return s.sendError(fmt.Sprintf("invalid value format: %q", cmd.Value))
	}
	if !isRegisterWritable(addr, len(data)) {
		return s.sendError(fmt.Sprintf("register 0x%04X (%d bytes) is not writable", addr, len(data)))
	}

	if err := s.tr.WriteRegister(addr, data); err != nil {
		return s.sendError(fmt.Sprintf("write error: %v", err))
	}
	s.log.Infof("register_debug: wrote 0x%04X = %X", addr, data)

	return s.Conn.WriteJSON(RegisterResponse{
		Type:      "register_data",
		Address:   fmt.Sprintf("0x%04X", addr),
		Value:     strings.ToUpper(hex.EncodeToString(data)),
		Timestamp: time.Now().Format(time.RFC3339),
		Message:   "write successful",
	})
}

func (s *RegisterDebugSession) sendRegisterMap() error {
	infos := make([]RegisterInfo, len(registerTable))
	for i, r := range registerTable {
		infos[i] = RegisterInfo{
			Address:     fmt.Sprintf("0x%04X", r.addr),
			Name:        r.name,
			Description: r.desc,
			Length:      r.length,
			Access:      r.access,
		}
	}
	return s.Conn.WriteJSON(RegisterResponse{Type: "register_map", RegisterMap: infos})
}

func (s *RegisterDebugSession) sendError(message string) error {
	return s.Conn.WriteJSON(RegisterResponse{Type: "error", Message: message})
}

func parseRegisterAddr(s string) (uint16, error) {
	if s == "" {
		return 0, fmt.Errorf("missing addr field")
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address format: %s", s)
	}
	return uint16(v), nil
}
