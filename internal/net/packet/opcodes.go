package packet

// Client -> server opcodes handled by the login server (v83).
const (
	C_LOGIN_PASSWORD       uint16 = 0x01
	C_GUEST_LOGIN          uint16 = 0x02
	C_SERVERLIST_REREQUEST uint16 = 0x04
	C_CHARLIST_REQUEST     uint16 = 0x05
	C_SERVERSTATUS_REQUEST uint16 = 0x06
	C_ACCEPT_TOS           uint16 = 0x07
	C_SET_GENDER           uint16 = 0x08
	C_AFTER_LOGIN          uint16 = 0x09
	C_REGISTER_PIN         uint16 = 0x0A
	C_SERVERLIST_REQUEST   uint16 = 0x0B
	C_CHAR_SELECT          uint16 = 0x13
	C_CHECK_CHAR_NAME      uint16 = 0x15
	C_CREATE_CHAR          uint16 = 0x16
	C_DELETE_CHAR          uint16 = 0x17
	C_PONG                 uint16 = 0x18
	C_CLIENT_START_ERROR   uint16 = 0x19
	C_CLIENT_ERROR         uint16 = 0x1A
	C_REGISTER_PIC         uint16 = 0x1D
	C_CHAR_SELECT_WITH_PIC uint16 = 0x1E
	C_LOGIN_STARTED        uint16 = 0x23
)

// Server -> client opcodes (v83).
const (
	S_LOGIN_STATUS              uint16 = 0x00
	S_SERVERSTATUS              uint16 = 0x03
	S_GENDER_DONE               uint16 = 0x04
	S_CHECK_PINCODE             uint16 = 0x06
	S_UPDATE_PINCODE            uint16 = 0x07
	S_SERVERLIST                uint16 = 0x0A
	S_CHARLIST                  uint16 = 0x0B
	S_SERVER_IP                 uint16 = 0x0C
	S_CHAR_NAME_RESPONSE        uint16 = 0x0D
	S_ADD_NEW_CHAR_ENTRY        uint16 = 0x0E
	S_DELETE_CHAR_RESPONSE      uint16 = 0x0F
	S_PING                      uint16 = 0x11
	S_LAST_CONNECTED_WORLD      uint16 = 0x1A
	S_RECOMMENDED_WORLD_MESSAGE uint16 = 0x1B
	S_CHECK_SPW_RESULT          uint16 = 0x1C
)
