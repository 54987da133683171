// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package regmap lists the sensor registers and register values the
// calibration core uses. Addresses are 16 bit; multi-byte values are big endian.
package regmap

// Customer NVM managed group (G02) and static configuration.
const (
	SoftReset uint16 = 0x0000

	// 6 bytes, one bit per reference SPAD.
	SPADEnablesRef0     uint16 = 0x000D
	RefEnStartSelect    uint16 = 0x0013
	RefSPADNumRequested uint16 = 0x0014
	RefSPADRefLocation  uint16 = 0x0015
	PartToPartOffsetMM  uint16 = 0x001E // 11.2 mm
	MMConfigInnerOffset uint16 = 0x0020 // int16 mm
	MMConfigOuterOffset uint16 = 0x0022 // int16 mm
	DSSTargetTotalRate  uint16 = 0x0024 // 9.7 Mcps
	GPIOHVMuxCtrl       uint16 = 0x0030
	GPIOTIOHVStatus     uint16 = 0x0031
	SSCArraySelect      uint16 = 0x0046
	SSCTimeoutUS        uint16 = 0x0047 // uint32 us
	PhasecalTimeoutUS   uint16 = 0x004B // uint16 us
	RangeTimeoutUS      uint16 = 0x005E // uint32 us
	PowerForce          uint16 = 0x0083
	TestModeCtrl        uint16 = 0x0084
	FirmwareEnable      uint16 = 0x0085
	InterruptClear      uint16 = 0x0086
	ModeStart           uint16 = 0x0087
	ResultRangeStatus   uint16 = 0x0089
	PatchBaseRSLV       uint16 = 0x0E00
)

// Result block sizes.
const (
	SPADEnablesRefLength   = 6
	DeviceTestResultLength = 2   // range status, report status
	RangeResultLength      = 17  // see RangeResult offsets below
	PatchRAMLength         = 512 // 256 x uint16
)

// Offsets into the 17 byte block at ResultRangeStatus.
const (
	RangeResultStatus          = 0
	RangeResultReportStatus    = 1
	RangeResultStreamCount     = 2
	RangeResultEffectiveSPADs  = 3  // 8.8
	RangeResultPeakRate        = 5  // 9.7
	RangeResultAmbientRate     = 7  // 9.7
	RangeResultSigma           = 9  // 14.2
	RangeResultPhase           = 11 // 5.11
	RangeResultFinalRangeMM    = 13 // int16
	RangeResultPeakRateXtalkCC = 15 // 9.7
)

// Register values.
const (
	// GPIOHVMuxCtrl bit 4: interrupt polarity, set means active low.
	InterruptPolarityMask byte = 0x10
	// GPIOTIOHVStatus bit 0: interrupt line level.
	TIOHVStatusMask byte = 0x01

	PowerForceOn  byte = 0x01
	PowerForceOff byte = 0x00

	FirmwareOn  byte = 0x01
	FirmwareOff byte = 0x00

	InterruptClearRange byte = 0x01

	ModeStartSingleShot byte = 0x10

	RangeStatusMask     byte = 0x1F
	RangeStatusComplete byte = 0x09
)

// Array sizes.
const (
	ReturnArraySPADs    = 256
	ReferenceArraySPADs = 48
)
