package apic

import (
	"kcore/internal/cpu"
	"kcore/internal/limits"
)

// PIT channel-2 ports and the PIT's fixed input frequency, used only
// to calibrate the LAPIC timer once at boot.
const (
	pitCh2Gate   uint16 = 0x61
	pitCh2Data   uint16 = 0x42
	pitCmd       uint16 = 0x43
	pitFreqHz    uint32 = 1193182
	calibrateMS  uint32 = 1

	timerDivideBy16  uint32 = 0x3
	timerModePeriodic uint32 = 1 << 17
	timerMasked       uint32 = 1 << 16
)

// calibrate runs a one-shot PIT countdown while the LAPIC timer free-runs,
// returning the LAPIC's tick rate in ticks/ms.
//
// Grounded on AdvancedPic::calibrateApicTimer: PIT channel 2 is
// configured one-shot (mode 0, LSB/MSB) for waitTicks = freq*ms/1000,
// the LAPIC timer is set to divide-by-16 and started at 0xFFFFFFFF,
// and the elapsed LAPIC ticks during the PIT's countdown give the
// calibration.
func (l *LAPIC) calibrate() uint32 {
	waitTicks := (pitFreqHz * calibrateMS) / 1000

	initial := cpu.InB(pitCh2Gate)
	cpu.OutB(pitCh2Gate, (initial&0xFC)|1)

	cpu.OutB(pitCmd, 0b10110000) // channel 2, LSB/MSB, one-shot
	cpu.OutB(pitCh2Data, uint8(waitTicks&0xFF))
	cpu.OutB(pitCh2Data, uint8((waitTicks>>8)&0xFF))

	current := cpu.InB(pitCh2Gate) & 0xFE
	cpu.OutB(pitCh2Gate, current)
	cpu.OutB(pitCh2Gate, current|1)

	l.write(regTimerDivide, timerDivideBy16)
	l.write(regTimerInitCount, 0xFFFFFFFF)

	for cpu.InB(pitCh2Gate)&0x20 == 0 {
		cpu.Pause()
	}

	l.write(regTimerLVT, timerMasked)
	elapsed := uint32(0xFFFFFFFF) - l.read(regTimerCurrentCnt)

	cpu.OutB(pitCh2Gate, initial)

	return elapsed / calibrateMS
}

// StartTimer calibrates the LAPIC timer against the PIT and arms it in
// periodic mode to fire vector every limits.TimerQuantumMillis
// milliseconds — the scheduler's tick source.
//
// Grounded on AdvancedPic::initAPICTimer: divide-by-16, init count set
// to ticksPerMs*10 for a 10ms period, LVT programmed with the
// periodic-mode bit (17) and the timer vector.
func (l *LAPIC) StartTimer(vector uint8) {
	ticksPerMs := l.calibrate()

	l.write(regTimerDivide, timerDivideBy16)
	l.write(regTimerInitCount, ticksPerMs*uint32(limits.TimerQuantumMillis))
	l.write(regTimerLVT, timerModePeriodic|uint32(vector))
}
