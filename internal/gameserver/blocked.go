package gameserver

// BlockReason keys the user-facing blocked-action line table.
type BlockReason string

const (
	BlockStealth   BlockReason = "stealth"
	BlockOutOfRoom BlockReason = "out_of_room"
	BlockDead      BlockReason = "dead"
	BlockProtected BlockReason = "protected"
	BlockImmune    BlockReason = "immune"
	BlockFailed    BlockReason = "failed"
)

// blockedLines centralizes every user-facing blocked-reason string so
// client behavior and tests key off stable outputs.
var blockedLines = map[BlockReason]string{
	BlockStealth:   "[world] You can't see that target.",
	BlockOutOfRoom: "[world] Target is out of range.",
	BlockDead:      "[world] You are in no condition for that.",
	BlockProtected: "[world] Target is immune.",
	BlockImmune:    "[world] Target is immune.",
	BlockFailed:    "[world] It fails.",
}

// BlockedLine returns the stable user-facing line for a reason. Unknown
// reasons fall back to the generic failure line.
func BlockedLine(reason BlockReason) string {
	if line, ok := blockedLines[reason]; ok {
		return line
	}
	return blockedLines[BlockFailed]
}
