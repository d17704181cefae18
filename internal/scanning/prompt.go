package scanning

// receiptPrompt is the instruction sent with every receipt image, shared by all providers
const receiptPrompt = `Analyze this receipt image. Extract all line items, tax, and tip.

Rules:
1. Output STRICT JSON only. No markdown, no text before or after the JSON.
2. ALWAYS translate item names to English.
3. Detect the currency and report it as a short ISO code (THB, USD, JPY, MMK, ...).
4. Classify every line into exactly one category: FOOD, ALCOHOL, SHARED, TAX, TIP.
5. Price: the unit price as a number, exactly as printed. Quantity: a positive integer, 1 if not printed.
6. Report tax and service/tip totals in tax_amount and tip_amount (0 when absent).
7. Structure:
{
  "items": [{"name": "", "quantity": 1, "price": 100, "category": "FOOD"}],
  "currency": "THB",
  "tax_amount": 0,
  "tip_amount": 0
}`

// ollamaSystemPrompt primes chat-style models before the receipt instruction
const ollamaSystemPrompt = "You are an expert at reading restaurant and shop receipts in any language. You read every printed line carefully and answer only with JSON."
