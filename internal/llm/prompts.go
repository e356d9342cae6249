package llm

const structurePrompt = `You are an RFP (Request for Proposal) expert. Convert the following user description into a structured RFP JSON format.
User Input: "%s"

CRITICAL RULES:
1. Only include fields and data that can be directly extracted or reasonably inferred from the user input
2. If information is missing or unclear, OMIT that field entirely from the JSON
3. Do not generate placeholder values, assumptions, or default data
4. Return a valid JSON structure containing ONLY the fields you can populate from the given input

Available structure (include only applicable fields):
{
  "title": "Brief title for the RFP",
  "description": "Detailed description of requirements",
  "deadline": "YYYY-MM-DD format (only if date info provided)",
  "budget": {
    "min": number,
    "max": number,
    "currency": "USD"
  },
  "items": [
    {
      "name": "Item name",
      "quantity": number,
      "unit": "pcs/lot/units",
      "specifications": "Detailed specs"
    }
  ],
  "evaluation_criteria": [
    { "criterion": "Price", "weight": 40 }
  ],
  "terms": "Payment and delivery terms"
}

IMPORTANT: Return ONLY valid JSON with fields that have actual data from input. No markdown, no code blocks, no explanations, no placeholder values.`

const comparePrompt = `You are a procurement expert. Compare the following vendor quotes for an RFP and recommend the best option.

RFP Requirements:
%s

Vendor Quotes:
%s

Analyze and return a JSON response:
{
  "best_price": {
    "vendor_id": "vendor with best price",
    "vendor_name": "name",
    "reasoning": "why this is best price"
  },
  "best_warranty": {
    "vendor_id": "vendor with best warranty",
    "vendor_name": "name",
    "reasoning": "why this is best warranty"
  },
  "best_overall": {
    "vendor_id": "recommended vendor",
    "vendor_name": "name",
    "reasoning": "detailed reasoning for recommendation"
  },
  "comparison_table": [
    {
      "vendor_id": "id",
      "vendor_name": "name",
      "price": number,
      "warranty": "string",
      "delivery_time": "string",
      "score": number,
      "pros": ["list of pros"],
      "cons": ["list of cons"]
    }
  ],
  "summary": "Brief executive summary of the comparison"
}

IMPORTANT: Return ONLY valid JSON, no markdown, no code blocks.`

const identifyPrompt = `You are an email analyzer for RFP management. Analyze the following email and identify which RFP it belongs to.

Email Content: "%s"

Available RFPs:
%s

Return a JSON response:
{
  "rfp_id": "The matching RFP ID or empty string if no match",
  "vendor_name": "Extracted vendor/sender name",
  "vendor_email": "Extracted email address if available",
  "confidence": number between 0-100,
  "reasoning": "Brief explanation"
}

IMPORTANT: Return ONLY valid JSON, no markdown, no code blocks.`
