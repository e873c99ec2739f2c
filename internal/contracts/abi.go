// Package contracts holds the ABI fragments the service interacts with.
package contracts

// PaymentTokenABI covers the ERC-20 surface the booking flow needs.
const PaymentTokenABI = `[
  {
    "name": "balanceOf",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "owner", "type": "address"}],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "name": "allowance",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "owner", "type": "address"},
      {"name": "spender", "type": "address"}
    ],
    "outputs": [{"name": "", "type": "uint256"}]
  },
  {
    "name": "approve",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "spender", "type": "address"},
      {"name": "amount", "type": "uint256"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  }
]`

// SlotEscrowABI is the escrow contract surface: deposit creation plus the
// event that assigns the escrow identifier.
const SlotEscrowABI = `[
  {
    "name": "createEscrow",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "recipient", "type": "address"},
      {"name": "amount", "type": "uint256"}
    ],
    "outputs": [{"name": "escrowId", "type": "uint256"}]
  },
  {
    "name": "EscrowCreated",
    "type": "event",
    "anonymous": false,
    "inputs": [
      {"name": "escrowId", "type": "uint256", "indexed": true},
      {"name": "depositor", "type": "address", "indexed": true},
      {"name": "recipient", "type": "address", "indexed": true},
      {"name": "amount", "type": "uint256", "indexed": false}
    ]
  }
]`
