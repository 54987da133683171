// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/tofcal/internal/tof"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // bench tool, served on the lab network
	},
}

// CalibrationSession is one websocket client driving calibrations.
type CalibrationSession struct {
	Conn   *websocket.Conn
	runner *Runner
	dflt   sessionDefaults
	log    *logrus.Entry
}

type sessionDefaults struct {
	distanceMM int16
	rateMode   string
	rateArray  string
	sscUS      uint32
}

// WSMessage is a client request. Fields not used by the action are ignored.
type WSMessage struct {
	Action     string `json:"action"` // refspad, offset, ratemap, devicetest, cancel
	DistanceMM int16  `json:"distance_mm,omitempty"`
	Mode       string `json:"mode,omitempty"`
	Array      string `json:"array,omitempty"`
	TimeoutUS  uint32 `json:"timeout_us,omitempty"`
}

// WSResponse is sent for every request: started once the request is accepted,
// then result or error.
type WSResponse struct {
	Type    string  `json:"type"` // started, result, error
	Action  string  `json:"action,omitempty"`
	Report  *Report `json:"report,omitempty"`
	Message string  `json:"message,omitempty"`
}

// handleCalibrationWS runs the message loop of one calibration session.
func (s *Server) handleCalibrationWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnf("calibration: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	session := &CalibrationSession{
		Conn:   conn,
		runner: s.runner,
		dflt: sessionDefaults{
			distanceMM: s.cfg.Offset.DistanceMM,
			rateMode:   s.cfg.RateMap.Mode,
			rateArray:  s.cfg.RateMap.Array,
			sscUS:      s.cfg.RateMap.SSCTimeoutUS,
		},
		log: s.log.WithField("remote", r.RemoteAddr),
	}
	session.log.Info("calibration: session opened")

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				session.log.Warnf("calibration: websocket read error: %v", err)
			}
			break
		}

		if msg.Action == "cancel" {
			session.log.Info("calibration: cancelled by client")
			return
		}
		if err := session.handle(msg); err != nil {
			session.log.Warnf("calibration: write error: %v", err)
			return
		}
	}
}

// handle runs one request. The returned error is a websocket write failure;
// calibration failures are reported to the client.
func (s *CalibrationSession) handle(msg WSMessage) error {
	run, err := s.operation(msg)
	if err != nil {
		return s.sendError(msg.Action, err.Error(), nil)
	}

	if err := s.Conn.WriteJSON(WSResponse{Type: "started", Action: msg.Action}); err != nil {
		return err
	}

	rep, err := run()
	if err != nil {
		text := err.Error()
		if errors.Is(err, tof.ErrBusy) {
			text = "device busy: another calibration is running"
		}
		return s.sendError(rep.Operation, text, &rep)
	}
	return s.Conn.WriteJSON(WSResponse{Type: "result", Action: rep.Operation, Report: &rep})
}

// operation validates a request and binds it to a runner call.
func (s *CalibrationSession) operation(msg WSMessage) (func() (Report, error), error) {
	switch msg.Action {
	case OpRefSPAD:
		return s.runner.RefSPAD, nil

	case OpOffset:
		distance := msg.DistanceMM
		if distance == 0 {
			distance = s.dflt.distanceMM
		}
		return func() (Report, error) { return s.runner.Offset(distance) }, nil

	case OpRateMap:
		mode, array, timeout := msg.Mode, msg.Array, msg.TimeoutUS
		if mode == "" {
			mode = s.dflt.rateMode
		}
		if array == "" {
			array = s.dflt.rateArray
		}
		if timeout == 0 {
			timeout = s.dflt.sscUS
		}
		m, err := tof.ParseTestMode(mode)
		if err != nil {
			return nil, err
		}
		a, err := tof.ParseArraySelect(array)
		if err != nil {
			return nil, err
		}
		return func() (Report, error) { return s.runner.RateMap(m, a, timeout) }, nil

	case OpDeviceTest:
		m, err := tof.ParseTestMode(msg.Mode)
		if err != nil {
			return nil, err
		}
		return func() (Report, error) { return s.runner.DeviceTest(m) }, nil

	default:
		return nil, fmt.Errorf("unknown action: %q", msg.Action)
	}
}

func (s *CalibrationSession) sendError(action, message string, rep *Report) error {
	return s.Conn.WriteJSON(WSResponse{Type: "error", Action: action, Message: message, Report: rep})
}
